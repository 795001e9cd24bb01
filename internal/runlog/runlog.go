package runlog

import (
	"context"
	"database/sql"
	_ "embed"
	"finscrape/internal/collector"
	"finscrape/internal/telemetry"
	configlibsql "finscrape/lib/configutil/libsql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed schema.sql
var Schema string

var tracer = otel.Tracer("finscrape.internal.runlog")

const report_runlog_record = "runlog.record"

// Ledger keeps a summary of every collection run.
type Ledger struct {
	db  *sql.DB
	tel telemetry.API
}

// Open opens the configured database and makes sure the schema exists.
func Open(config configlibsql.Struct, tel telemetry.API) (*Ledger, error) {
	db, err := config.OpenDB()
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	ledger, err := New(db, tel)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ledger, nil
}

func New(db *sql.DB, tel telemetry.API) (*Ledger, error) {
	_, err := db.Exec(Schema)
	if err != nil {
		return nil, fmt.Errorf("create run ledger schema: %w", err)
	}
	return &Ledger{db: db, tel: telemetry.NewScopedAPI("runlog", tel)}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Record stores the report, runErr is the error the run was interrupted
// with, if any.
func (l *Ledger) Record(ctx context.Context, report collector.Report, runErr error) error {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID.String()))

	err := l.record(ctx, report, runErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record run")
		l.tel.ReportBroken(report_runlog_record, err, report.RunID.String())
		return err
	}
	return nil
}

func (l *Ledger) record(ctx context.Context, report collector.Report, runErr error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`insert into runs(id, started_at, finished_at, topics, written, skipped, failures, error)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID.String(),
		report.Started.Unix(),
		report.Finished.Unix(),
		len(report.Topics),
		report.Written(),
		report.Skipped(),
		report.Failures(),
		errorText(runErr),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, topic := range report.Topics {
		for _, src := range topic.Sources {
			_, err = tx.ExecContext(
				ctx,
				`insert into run_results(run_id, topic, source, fetched, written, skipped, failures, error)
				values (?, ?, ?, ?, ?, ?, ?, ?)`,
				report.RunID.String(),
				topic.Topic,
				src.Source,
				src.Fetched,
				src.Written(),
				src.Skipped(),
				src.Failures(),
				errorText(src.Err),
			)
			if err != nil {
				return fmt.Errorf("insert result %s/%s: %w", topic.Topic, src.Source, err)
			}
		}
	}

	return tx.Commit()
}

type RunSummary struct {
	Id       string
	Started  time.Time
	Finished time.Time
	Topics   int
	Written  int
	Skipped  int
	Failures int
	Error    string
}

// Recent returns the latest runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select id, started_at, finished_at, topics, written, skipped, failures, error
		from runs order by started_at desc, rowid desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished int64
		err := rows.Scan(&s.Id, &started, &finished, &s.Topics, &s.Written, &s.Skipped, &s.Failures, &s.Error)
		if err != nil {
			return nil, err
		}
		s.Started = time.Unix(started, 0)
		s.Finished = time.Unix(finished, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

type ResultSummary struct {
	Topic    string
	Source   string
	Fetched  int
	Written  int
	Skipped  int
	Failures int
	Error    string
}

// Results returns the per topic and source outcomes of a run.
func (l *Ledger) Results(ctx context.Context, runId string) ([]ResultSummary, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select topic, source, fetched, written, skipped, failures, error
		from run_results where run_id = ? order by rowid`,
		runId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var r ResultSummary
		err := rows.Scan(&r.Topic, &r.Source, &r.Fetched, &r.Written, &r.Skipped, &r.Failures, &r.Error)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
