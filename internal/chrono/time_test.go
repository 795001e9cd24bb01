package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStandardTime(t *testing.T) {
	utc, err := NewStandardTime("")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, time.UTC, utc.Location())

	warsaw, err := NewStandardTime("Europe/Warsaw")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "Europe/Warsaw", warsaw.Location().String())
	require.Equal(t, "Europe/Warsaw", warsaw.Now().Location().String())

	_, err = NewStandardTime("Not/AZone")
	require.Error(t, err)
}

func TestStartOfDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		in     time.Time
		expect time.Time
	}{
		{
			in:     time.Date(2025, time.March, 5, 23, 59, 59, 0, loc),
			expect: time.Date(2025, time.March, 5, 0, 0, 0, 0, loc),
		},
		{
			in:     time.Date(2025, time.March, 6, 0, 0, 0, 1, time.UTC),
			expect: time.Date(2025, time.March, 6, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, StartOfDay(test.in))
	}
}

func TestFixedTime(t *testing.T) {
	at := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	clock := FixedTime{At: at}
	require.Equal(t, at, clock.Now())
	require.Equal(t, time.UTC, clock.Location())
}
