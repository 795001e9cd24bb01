package partition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultRoot = "data"

// Extension of every partition log.
const Extension = ".txt"

// Partition is a single (topic, day) log.
type Partition struct {
	Topic string
	Year  int
	Month time.Month
	Day   int
	Path  string
}

func (p Partition) String() string {
	return fmt.Sprintf("%s@%04d-%02d-%02d", p.Topic, p.Year, p.Month, p.Day)
}

// SafeTopic turns a topic into a directory name. Only spaces are replaced,
// everything else (including non-ascii characters) is kept as is.
func SafeTopic(topic string) string {
	return strings.ReplaceAll(topic, " ", "_")
}

// Resolver maps (topic, day) to a partition log under Root.
type Resolver struct {
	Root string
}

func NewResolver(root string) Resolver {
	if root == "" {
		root = DefaultRoot
	}
	return Resolver{Root: root}
}

// Locate computes the partition for topic on date without touching the
// filesystem. The date is used as is, convert it to the desired location
// beforehand.
func (r Resolver) Locate(topic string, date time.Time) Partition {
	safe := SafeTopic(topic)
	root := r.Root
	if root == "" {
		root = DefaultRoot
	}
	return Partition{
		Topic: safe,
		Year:  date.Year(),
		Month: date.Month(),
		Day:   date.Day(),
		Path: filepath.Join(
			root,
			safe,
			fmt.Sprintf("%d", date.Year()),
			fmt.Sprintf("%02d", int(date.Month())),
			fmt.Sprintf("%02d%s", date.Day(), Extension),
		),
	}
}

// Resolve is Locate but it also makes sure the directory of the log
// exists.
func (r Resolver) Resolve(topic string, date time.Time) (Partition, error) {
	p := r.Locate(topic, date)
	err := os.MkdirAll(filepath.Dir(p.Path), 0755)
	if err != nil {
		return Partition{}, fmt.Errorf("resolve partition %s: %w", p, err)
	}
	return p, nil
}

// List returns every partition log stored for topic, oldest first. Files
// that do not follow the <year>/<month>/<day>.txt layout are ignored.
func (r Resolver) List(topic string) ([]Partition, error) {
	dir := filepath.Dir(filepath.Dir(filepath.Dir(r.Locate(topic, time.Time{}).Path)))

	var out []Partition
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != Extension {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		segments := strings.Split(rel, string(filepath.Separator))
		if len(segments) != 3 {
			return nil
		}
		year, errYear := strconv.Atoi(segments[0])
		month, errMonth := strconv.Atoi(segments[1])
		day, errDay := strconv.Atoi(strings.TrimSuffix(segments[2], Extension))
		if errYear != nil || errMonth != nil || errDay != nil {
			return nil
		}
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		p := r.Locate(topic, date)
		if p.Path != path {
			return nil
		}
		out = append(out, p)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list partitions of %q: %w", topic, err)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Day < b.Day
	})
	return out, nil
}
