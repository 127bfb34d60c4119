package queue

import "sync/atomic"

// Sequencer provides monotonically increasing sequence numbers.
type Sequencer struct{ n atomic.Uint64 }

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Last returns the most recently issued sequence number.
func (s *Sequencer) Last() uint64 { return s.n.Load() }
