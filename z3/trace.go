package z3

import (
	"encoding/binary"
	"io/ioutil"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// MapSize is the size of an AFL coverage bitmap.
const MapSize = 1 << 16

// traceMap tracks visited branch edges in the layout of an AFL virgin map:
// a byte of 0xFF marks an edge that has never been seen.
type traceMap struct {
	virgin []byte
	prev   uint64
	dirty  bool
}

func newTraceMap() *traceMap {
	m := &traceMap{virgin: make([]byte, MapSize)}
	for i := range m.virgin {
		m.virgin[i] = 0xFF
	}
	return m
}

// load replaces the virgin map with the contents of an AFL bitmap file.
func (m *traceMap) load(path string) error {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read afl coverage map")
	} else if len(buf) != MapSize {
		return errors.Errorf("afl coverage map %s: unexpected size %d", path, len(buf))
	}
	m.virgin = buf
	return nil
}

// save writes the virgin map back to path.
func (m *traceMap) save(path string) error {
	if err := ioutil.WriteFile(path, m.virgin, 0666); err != nil {
		return errors.Wrap(err, "write afl coverage map")
	}
	m.dirty = false
	return nil
}

// isInterestingBranch records the edge from the previous branch to this one
// and returns true if it had not been seen before.
func (m *traceMap) isInterestingBranch(site uint64, taken bool) bool {
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], site)
	if taken {
		buf[8] = 1
	}
	h := xxhash.Sum64(buf[:])

	idx := (m.prev ^ h) % MapSize
	m.prev = h >> 1

	if m.virgin[idx] != 0xFF {
		return false
	}
	m.virgin[idx] = 0
	m.dirty = true
	return true
}
