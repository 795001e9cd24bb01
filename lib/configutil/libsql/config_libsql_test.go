package configlibsql

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	db, err := Struct{File: path}.OpenDB()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	require.Equal(t, "wal", mode)
}

func TestOpenMemory(t *testing.T) {
	db, err := Struct{File: ":memory:"}.OpenDB()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	require.NoError(t, db.Ping())
}

func TestOpenNothing(t *testing.T) {
	_, err := Struct{}.OpenDB()
	require.Error(t, err)
}
