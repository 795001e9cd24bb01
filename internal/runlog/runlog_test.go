package runlog

import (
	"context"
	"errors"
	"finscrape/internal/collector"
	"finscrape/internal/sources"
	"finscrape/internal/telemetry"
	configlibsql "finscrape/lib/configutil/libsql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var started = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := Open(configlibsql.Struct{File: ":memory:"}, &telemetry.Recorder{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func sampleReport(at time.Time) collector.Report {
	return collector.Report{
		RunID:    uuid.New(),
		Started:  at,
		Finished: at.Add(time.Minute),
		Topics: []collector.TopicResult{
			{
				Topic: "Bitcoin",
				Sources: []collector.SourceResult{
					{
						Source:  "reddit",
						Fetched: 4,
						Units: []sources.UnitResult{
							{Unit: "r/stocks", Fetched: 4},
							{Unit: "r/investing", Err: errors.New("status 503")},
						},
						Saves: []collector.SaveOutcome{{Candidates: 4, Skipped: 1, Written: 3}},
					},
					{Source: "x", Err: errors.New("bad credentials")},
				},
			},
		},
	}
}

func TestRecordAndRead(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	older := sampleReport(started)
	newer := sampleReport(started.Add(time.Hour))
	require.NoError(t, ledger.Record(ctx, older, nil))
	require.NoError(t, ledger.Record(ctx, newer, context.Canceled))

	runs, err := ledger.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, newer.RunID.String(), runs[0].Id)
	require.Equal(t, "context canceled", runs[0].Error)
	require.Equal(t, RunSummary{
		Id:       older.RunID.String(),
		Started:  time.Unix(started.Unix(), 0),
		Finished: time.Unix(started.Add(time.Minute).Unix(), 0),
		Topics:   1,
		Written:  3,
		Skipped:  1,
		Failures: 2,
	}, runs[1])

	limited, err := ledger.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	results, err := ledger.Results(ctx, older.RunID.String())
	require.NoError(t, err)
	require.Equal(t, []ResultSummary{
		{Topic: "Bitcoin", Source: "reddit", Fetched: 4, Written: 3, Skipped: 1, Failures: 1},
		{Topic: "Bitcoin", Source: "x", Failures: 1, Error: "bad credentials"},
	}, results)
}

func TestRecordSameRunTwiceFails(t *testing.T) {
	rec := &telemetry.Recorder{}
	ledger, err := Open(configlibsql.Struct{File: ":memory:"}, rec)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	report := sampleReport(started)
	require.NoError(t, ledger.Record(context.Background(), report, nil))
	require.Error(t, ledger.Record(context.Background(), report, nil))
	require.Len(t, rec.Find(telemetry.LevelBroken, report_runlog_record), 1)

	results, err := ledger.Results(context.Background(), report.RunID.String())
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestOpenFileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ledger, err := Open(configlibsql.Struct{File: path}, &telemetry.Recorder{})
	if err != nil {
		t.Fatal(err)
	}
	require.NoError(t, ledger.Record(context.Background(), sampleReport(started), nil))
	require.NoError(t, ledger.Close())

	reopened, err := Open(configlibsql.Struct{File: path}, &telemetry.Recorder{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	runs, err := reopened.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
