package batch

import (
	"context"
	"time"

	"voicestudio/db"
)

// Event is published on every segment status change and at run start and end.
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Op      string    `json:"op"`
	Index   int       `json:"index,omitempty"`
	Status  string    `json:"status,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
	Time    time.Time `json:"time"`
}

const (
	EventSegment     = "segment"
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
)

type Observer interface {
	Notify(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) Notify(Event) {}

// Journal persists runs and per-segment outcomes.
type Journal interface {
	StartRun(ctx context.Context, run *db.Run) error
	RecordSegment(ctx context.Context, ev *db.SegmentEvent) error
	FinishRun(ctx context.Context, run *db.Run) error
}

type SegmentResult struct {
	Index  int    `json:"index"`
	Status Status `json:"status"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summary is the end-of-run report. Failures lists every failed segment in index order.
type Summary struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Failures  []SegmentResult `json:"failures,omitempty"`
}
