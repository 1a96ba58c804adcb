package sequencer

import pionrtp "github.com/pion/rtp"

// Sequencer produces sequential 16-bit sequence numbers with rollover
// tracking. Next must serialize concurrent callers; Rollovers reflects
// the count observed at the snapshot of the last completed Next call.
type Sequencer interface {
	Next() uint16
	Rollovers() uint64
}

type wrapped struct {
	s pionrtp.Sequencer
}

func (w wrapped) Next() uint16 {
	return w.s.NextSequenceNumber()
}

func (w wrapped) Rollovers() uint64 {
	return w.s.RollOverCount()
}

// NewFixed returns a Sequencer whose first call to Next returns start.
func NewFixed(start uint16) Sequencer {
	return wrapped{s: pionrtp.NewFixedSequencer(start)}
}

// NewRandom returns a Sequencer seeded uniformly in [0, 2^15).
func NewRandom() Sequencer {
	return wrapped{s: pionrtp.NewRandomSequencer()}
}
