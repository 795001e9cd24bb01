package poststore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"finscrape/internal/partition"
	"finscrape/internal/post"
	"finscrape/internal/telemetry"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finscrape.internal.poststore")

const (
	report_store_load   = "store.load"
	report_store_append = "store.append"
	report_store_save   = "store.save"
)

// Store deduplicates posts against partition logs and appends the ones
// that are new. It does not coordinate between concurrent writers, only a
// single writer per partition is supported.
type Store struct {
	resolver partition.Resolver
	tel      telemetry.API
}

func NewStore(resolver partition.Resolver, tel telemetry.API) Store {
	return Store{
		resolver: resolver,
		tel:      telemetry.NewScopedAPI("poststore", tel),
	}
}

func (s Store) Resolver() partition.Resolver {
	return s.resolver
}

// textOf extracts the trimmed text of a single log line. ok is false for
// anything that is not a json object with a string "text" field.
func textOf(line []byte) (text string, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	err := json.Unmarshal(line, &fields)
	if err != nil || fields == nil {
		return "", false
	}
	raw, exists := fields["text"]
	if !exists {
		return "", false
	}
	err = json.Unmarshal(raw, &text)
	if err != nil {
		return "", false
	}
	return post.Key(text), true
}

// LoadExistingTexts returns the set of trimmed texts already stored in the
// partition. A log that does not exist yet is an empty set. Lines that
// cannot be parsed (ex. a partial line left by an interrupted write) are
// skipped without error.
func (s Store) LoadExistingTexts(ctx context.Context, p partition.Partition) (map[string]struct{}, error) {
	_, span := tracer.Start(ctx, "LoadExistingTexts")
	defer span.End()
	span.SetAttributes(attribute.String("path", p.Path))

	existing := map[string]struct{}{}

	f, err := os.Open(p.Path)
	if os.IsNotExist(err) {
		return existing, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_store_load, fmt.Errorf("open: %w", err), p.Path)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open partition log")
		return nil, err
	}
	defer f.Close()

	skipped := 0
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			text, ok := textOf(line)
			if ok {
				existing[text] = struct{}{}
			} else if len(bytes.TrimSpace(line)) > 0 {
				skipped++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.tel.ReportBroken(report_store_load, fmt.Errorf("read: %w", err), p.Path)
			span.RecordError(err)
			span.SetStatus(codes.Error, "read partition log")
			return nil, err
		}
	}

	if skipped > 0 {
		s.tel.ReportDebug("skipped unreadable lines", p.Path, skipped)
	}
	span.SetAttributes(attribute.Int("existing", len(existing)))
	return existing, nil
}

// FilterNew returns, in their original order, the candidates whose trimmed
// text is not in existing. Only the first of several candidates sharing a
// text is kept and candidates with blank text are dropped. existing is not
// modified.
func FilterNew(candidates []post.Post, existing map[string]struct{}) []post.Post {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]post.Post, 0, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		if key == "" {
			continue
		}
		if _, stored := existing[key]; stored {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// terminateLastLine makes sure a log left without a trailing newline (ex.
// by an interrupted write) does not glue its partial last line to the next
// record.
func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	_, err = f.ReadAt(last, info.Size()-1)
	if err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

type WriteResult struct {
	Path    string
	Written int
}

// Append writes each record as a single json line to the end of the
// partition log, creating it if needed. Writing nothing does not touch
// the filesystem. On error, Written holds the amount of lines that made it
// to the log before the failure.
func (s Store) Append(ctx context.Context, p partition.Partition, records []post.Post) (WriteResult, error) {
	_, span := tracer.Start(ctx, "Append")
	defer span.End()
	span.SetAttributes(attribute.String("path", p.Path))

	result := WriteResult{Path: p.Path}
	if len(records) == 0 {
		s.tel.ReportInfo("nothing to write", p.Path)
		return result, nil
	}

	f, err := os.OpenFile(p.Path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		s.tel.ReportBroken(report_store_append, fmt.Errorf("open: %w", err), p.Path)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open partition log")
		return result, err
	}

	err = terminateLastLine(f)
	if err == nil {
		s.tel.ReportDebug("appending", p.Path, len(records))
	}

	// Encode emits one Write per record, newline included.
	encoder := json.NewEncoder(f)
	encoder.SetEscapeHTML(false)
	for _, r := range records {
		if err != nil {
			break
		}
		err = encoder.Encode(r)
		if err == nil {
			result.Written++
		}
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.tel.ReportBroken(report_store_append, fmt.Errorf("write: %w", err), p.Path, result.Written)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write partition log")
		return result, err
	}

	span.SetAttributes(attribute.Int("written", result.Written))
	s.tel.ReportInfo("saved posts", p.Path, result.Written)
	return result, nil
}

type SaveResult struct {
	Partition  partition.Partition
	Candidates int
	Skipped    int
	Written    int
}

// Save resolves the partition of topic on day, drops the candidates that
// are already stored and appends the rest.
func (s Store) Save(ctx context.Context, topic string, day time.Time, candidates []post.Post) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "Save")
	defer span.End()

	result := SaveResult{Candidates: len(candidates)}

	p, err := s.resolver.Resolve(topic, day)
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve partition")
		return result, err
	}
	result.Partition = p

	existing, err := s.LoadExistingTexts(ctx, p)
	if err != nil {
		return result, err
	}

	fresh := FilterNew(candidates, existing)
	result.Skipped = len(candidates) - len(fresh)

	written, err := s.Append(ctx, p, fresh)
	result.Written = written.Written
	return result, err
}
