// Package coverage persists per-site coverage counters across executions and
// decides whether a branch constraint was recorded under novel coverage.
package coverage

import (
	"bufio"
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCountersFile is the counters file used when none is configured.
const DefaultCountersFile = "corpus_counters.stats"

// MaxCount is the saturation value of a counter.
const MaxCount = 255

// ErrMalformedCounters is returned when a counters file has a line that is
// not a non-negative decimal integer.
var ErrMalformedCounters = errors.New("malformed counters file")

// Counters is an ordered vector of saturating per-site counters.
type Counters []uint8

// Novel returns true if some position of live exceeds its counter.
// Positions beyond the end of c are compared against zero.
func (c Counters) Novel(live []byte) bool {
	for i, v := range live {
		var prev uint8
		if i < len(c) {
			prev = c[i]
		}
		if v > prev {
			return true
		}
	}
	return false
}

// Merge returns the per-position maximum of c and live. The result is at
// least as long as both inputs.
func (c Counters) Merge(live []byte) Counters {
	n := len(c)
	if len(live) > n {
		n = len(live)
	}
	other := make(Counters, n)
	copy(other, c)
	for i, v := range live {
		if v > other[i] {
			other[i] = v
		}
	}
	return other
}

// NonZero returns the number of positions with a non-zero counter.
func (c Counters) NonZero() int {
	var n int
	for _, v := range c {
		if v != 0 {
			n++
		}
	}
	return n
}

// ParseCounters parses the counters file format: one decimal integer per line.
// Values above MaxCount are clamped and blank lines are skipped. Any other
// line fails with ErrMalformedCounters.
func ParseCounters(data []byte) (Counters, error) {
	var c Counters
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			v = MaxCount
		} else if err != nil {
			return nil, errors.Wrapf(ErrMalformedCounters, "line %d: %q", lineNo, line)
		} else if v > MaxCount {
			v = MaxCount
		}
		c = append(c, uint8(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "counters: scan")
	}
	return c, nil
}

// Format encodes c in the counters file format.
func (c Counters) Format() []byte {
	var buf bytes.Buffer
	for _, v := range c {
		buf.WriteString(strconv.Itoa(int(v)))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ReadCountersFile reads counters from path. Returns nil if the file does not exist.
func ReadCountersFile(path string) (Counters, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read counters file")
	}
	return ParseCounters(data)
}

// WriteCountersFile atomically replaces the counters file at path.
func WriteCountersFile(path string, c Counters) error {
	f, err := ioutil.TempFile(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return errors.Wrap(err, "create temp counters file")
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(c.Format()); err != nil {
		f.Close()
		return errors.Wrap(err, "write temp counters file")
	} else if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync temp counters file")
	} else if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp counters file")
	}

	if err := os.Rename(f.Name(), path); err != nil {
		return errors.Wrap(err, "rename counters file")
	}
	return nil
}

// MergeCountersFile merges live into the counters file at path while holding
// an exclusive lock so concurrent executions do not lose each other's updates.
// A malformed file is replaced by live. Returns the merged counters.
func MergeCountersFile(path string, live []byte) (Counters, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrap(err, "lock counters file")
	}
	defer lock.Unlock()

	prev, err := ReadCountersFile(path)
	if errors.Cause(err) == ErrMalformedCounters {
		prev = nil
	} else if err != nil {
		return nil, err
	}
	c := prev.Merge(live)
	if err := WriteCountersFile(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CoverageMap provides the live coverage map of the running program.
type CoverageMap interface {
	Bytes() []byte
}

// StaticMap is a CoverageMap backed by a byte slice.
type StaticMap []byte

// Bytes returns the underlying slice.
func (m StaticMap) Bytes() []byte { return m }

// Policy decides whether a branch constraint should be persisted based on
// whether live coverage exceeds the best coverage recorded by prior runs.
//
// Stored counters are read once, lazily, and only advanced by Finalize.
type Policy struct {
	hydrated  bool
	finalized bool
	firstRun  bool
	counters  Counters

	// Path to the counters file.
	Path string

	// Live coverage of the running program.
	Map CoverageMap

	// When true, every decision is overridden to persist.
	ForceSave bool

	Logger logrus.FieldLogger
}

// NewPolicy returns a new instance of Policy.
func NewPolicy(path string, m CoverageMap) *Policy {
	return &Policy{
		Path:   path,
		Map:    m,
		Logger: logrus.StandardLogger(),
	}
}

// Counters returns the in-memory counters. Nil until hydrated.
func (p *Policy) Counters() Counters {
	return p.counters
}

// FirstRun returns true if no counters were recorded by prior runs.
func (p *Policy) FirstRun() bool {
	p.hydrate()
	return p.firstRun
}

// hydrate loads counters from disk on first use. A missing, empty or
// unreadable file yields zero-filled counters sized to the live map and
// marks the run as the first one.
func (p *Policy) hydrate() {
	if p.hydrated {
		return
	}
	p.hydrated = true

	c, err := ReadCountersFile(p.Path)
	if errors.Cause(err) == ErrMalformedCounters {
		p.Logger.WithError(err).WithField("path", p.Path).Warn("discarding malformed coverage counters")
		c = nil
	} else if err != nil {
		p.Logger.WithError(err).WithField("path", p.Path).Warn("cannot read coverage counters, starting from zero")
		c = nil
	}
	p.firstRun = len(c) == 0

	live := p.live()
	if len(c) < len(live) {
		c = append(c, make(Counters, len(live)-len(c))...)
	}
	p.counters = c
}

func (p *Policy) live() []byte {
	if p.Map == nil {
		return nil
	}
	return p.Map.Bytes()
}

// ShouldSave returns true if the live coverage map exceeds the stored
// counters at any position. The first run and ForceSave always save.
// Counters are not modified.
func (p *Policy) ShouldSave() bool {
	p.hydrate()
	if p.firstRun || p.ForceSave {
		return true
	}
	return p.counters.Novel(p.live())
}

// Finalize merges the live coverage map into the counters and writes them
// to disk. Only the first call has any effect.
func (p *Policy) Finalize() error {
	if p.finalized {
		return nil
	}
	p.finalized = true
	p.hydrate()

	c, err := MergeCountersFile(p.Path, p.counters.Merge(p.live()))
	if err != nil {
		return err
	}
	p.counters = c
	return nil
}
