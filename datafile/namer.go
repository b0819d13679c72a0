package datafile

import (
	"fmt"
	"strconv"
	"sync"
)

// Namer allocates deterministic output identities of the form
// "<base>_<position>.NNN". NNN is a 3-digit, 1-based repeat counter scoped to
// the base name; a previously allocated identity is never reused.
type Namer struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewNamer creates an empty Namer.
func NewNamer() *Namer {
	return &Namer{counters: make(map[string]int)}
}

// Next allocates the next identity for base at the given position.
// The position is rendered in its natural string form, e.g. 5000 -> "5000".
func (n *Namer) Next(base string, position float64) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.counters[base]++

	return fmt.Sprintf("%s_%s.%03d", base, strconv.FormatFloat(position, 'g', -1, 64), n.counters[base])
}

// NextBase allocates the next identity for an explicit data file name,
// without a position component: "<base>.NNN".
func (n *Namer) NextBase(base string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.counters[base]++

	return fmt.Sprintf("%s.%03d", base, n.counters[base])
}

// Peek returns the identity Next would allocate, without consuming it.
func (n *Namer) Peek(base string, position float64) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return fmt.Sprintf("%s_%s.%03d", base, strconv.FormatFloat(position, 'g', -1, 64), n.counters[base]+1)
}
