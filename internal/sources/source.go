package sources

import (
	"context"
	"errors"
	"finscrape/internal/post"
	"fmt"
)

// Source produces candidate posts for a query. Implementations filter
// their own results by keyword but never deduplicate or persist.
type Source interface {
	// Name identifies the source in logs, metrics and run reports.
	Name() string
	Fetch(ctx context.Context, query string, maxResults int) (Batch, error)
}

// UnitResult is the outcome of one unit of work inside a source, ex. a
// single subreddit search or a single date range.
type UnitResult struct {
	Unit    string
	Fetched int
	Err     error
}

type Batch struct {
	Posts []post.Post
	Units []UnitResult
}

// Add records the outcome of a unit and appends its posts.
func (b *Batch) Add(unit string, posts []post.Post, err error) {
	b.Posts = append(b.Posts, posts...)
	b.Units = append(b.Units, UnitResult{Unit: unit, Fetched: len(posts), Err: err})
}

// Failed returns the units that ended with an error.
func (b Batch) Failed() []UnitResult {
	var out []UnitResult
	for _, u := range b.Units {
		if u.Err != nil {
			out = append(out, u)
		}
	}
	return out
}

// Err joins the errors of every failed unit, nil if none failed.
func (b Batch) Err() error {
	var errs []error
	for _, u := range b.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", u.Unit, u.Err))
	}
	return errors.Join(errs...)
}
