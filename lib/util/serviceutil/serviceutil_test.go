package serviceutil

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartHttpServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	addr, done, err := StartHttpServer(ctx, "127.0.0.1:0", mux)
	if err != nil {
		t.Fatal(err)
	}

	res, err := http.Get("http://" + addr.String() + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "pong", string(body))

	cancel()
	for err := range done {
		t.Fatal(err)
	}
}
