package process

import (
	"fmt"

	"github.com/thermactl/thermactl/device"
)

// Entry is one timestamped StateMap held by a Buffer.
type Entry struct {
	Timestamp int64
	Map       device.StateMap
}

// Buffer is the time-ordered history a stateful process owns. It stores and
// windows entries; derived computation (derivatives, averages) belongs to
// the owning process, never here. Contents are runtime-only and are
// discarded on restart.
type Buffer struct {
	entries []Entry
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Store appends an entry. Timestamps must be non-decreasing; a regression
// is rejected as a programming error.
func (b *Buffer) Store(timestamp int64, m device.StateMap) error {
	if n := len(b.entries); n > 0 && timestamp < b.entries[n-1].Timestamp {
		return fmt.Errorf("%w: %d after %d", ErrTimestampOrder, timestamp, b.entries[n-1].Timestamp)
	}
	b.entries = append(b.entries, Entry{Timestamp: timestamp, Map: m})
	return nil
}

// Recent returns the entries newer than now − duration, oldest first.
func (b *Buffer) Recent(now, duration int64) []Entry {
	return b.Range(now-duration+1, now)
}

// Range returns the entries with start ≤ timestamp ≤ end, oldest first.
func (b *Buffer) Range(start, end int64) []Entry {
	lo := 0
	for lo < len(b.entries) && b.entries[lo].Timestamp < start {
		lo++
	}
	hi := len(b.entries)
	for hi > lo && b.entries[hi-1].Timestamp > end {
		hi--
	}
	if lo == hi {
		return nil
	}
	out := make([]Entry, hi-lo)
	copy(out, b.entries[lo:hi])
	return out
}

// PruneBefore drops entries older than the timestamp and returns how many
// were removed.
func (b *Buffer) PruneBefore(timestamp int64) int {
	n := 0
	for n < len(b.entries) && b.entries[n].Timestamp < timestamp {
		n++
	}
	if n == 0 {
		return 0
	}
	b.entries = append(b.entries[:0], b.entries[n:]...)
	return n
}

// PruneToCount drops the oldest entries until at most max remain, returning
// how many were removed.
func (b *Buffer) PruneToCount(max int) int {
	if max < 0 || len(b.entries) <= max {
		return 0
	}
	n := len(b.entries) - max
	b.entries = append(b.entries[:0], b.entries[n:]...)
	return n
}

// Latest returns the newest entry.
func (b *Buffer) Latest() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Oldest returns the oldest entry.
func (b *Buffer) Oldest() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[0], true
}

// Len returns the number of entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Reset discards all entries.
func (b *Buffer) Reset() { b.entries = b.entries[:0] }
