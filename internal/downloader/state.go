package downloader

import (
	"fmt"

	"github.com/vm-affekt/mediafetch/internal/progress"
)

type State int

const (
	StateIdle State = iota
	StateResolving
	StateFetching
	StateTranscoding
	StatePackaging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResolving:
		return "Resolving"
	case StateFetching:
		return "FetchingItem"
	case StateTranscoding:
		return "Transcoding"
	case StatePackaging:
		return "Packaging"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Progress is a snapshot of a running download.
type Progress struct {
	State State
	// Item is the 1-based index of the current item, 0 outside the item loop.
	Item  int
	Total int
	Title string
	// Counter counts the bytes of the current item's transfer.
	Counter *progress.Counter
	// Err is the reason of StateFailed.
	Err error
}

// Observer receives every state transition of a download.
type Observer func(Progress)

type tracker struct {
	observe Observer
	current Progress
}

func newTracker(observe Observer) *tracker {
	return &tracker{observe: observe, current: Progress{State: StateIdle}}
}

func (t *tracker) set(p Progress) {
	if t.current.State.Terminal() {
		return
	}
	t.current = p
	if t.observe != nil {
		t.observe(p)
	}
}

func (t *tracker) fail(err error) {
	p := t.current
	p.State = StateFailed
	p.Err = err
	t.set(p)
}
