package collector

import (
	"finscrape/internal/sources"
	"time"

	"github.com/google/uuid"
)

type SaveOutcome struct {
	Day        time.Time
	Partition  string
	Candidates int
	Skipped    int
	Written    int
	Err        error
}

type SourceResult struct {
	Source  string
	Fetched int
	Units   []sources.UnitResult
	Saves   []SaveOutcome
	// set when the source could not run at all
	Err error
}

func (r SourceResult) Written() int {
	total := 0
	for _, s := range r.Saves {
		total += s.Written
	}
	return total
}

func (r SourceResult) Skipped() int {
	total := 0
	for _, s := range r.Saves {
		total += s.Skipped
	}
	return total
}

// Failures counts the failed units and saves of the source, plus one if
// the source itself failed.
func (r SourceResult) Failures() int {
	total := 0
	if r.Err != nil {
		total++
	}
	for _, u := range r.Units {
		if u.Err != nil {
			total++
		}
	}
	for _, s := range r.Saves {
		if s.Err != nil {
			total++
		}
	}
	return total
}

type TopicResult struct {
	Topic   string
	Sources []SourceResult
}

func (r TopicResult) Written() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Written()
	}
	return total
}

func (r TopicResult) Failures() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Failures()
	}
	return total
}

type Report struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time
	Topics   []TopicResult
}

func (r Report) Written() int {
	total := 0
	for _, t := range r.Topics {
		total += t.Written()
	}
	return total
}

func (r Report) Skipped() int {
	total := 0
	for _, t := range r.Topics {
		for _, s := range t.Sources {
			total += s.Skipped()
		}
	}
	return total
}

func (r Report) Failures() int {
	total := 0
	for _, t := range r.Topics {
		total += t.Failures()
	}
	return total
}
