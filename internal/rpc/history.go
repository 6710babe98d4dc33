package rpc

import (
	"context"
	"time"
)

// DispatchRecord summarizes one completed broadcast for the history sink.
type DispatchRecord struct {
	CallID      string
	Group       string
	Action      string
	Transport   string
	Members     int
	Values      int
	Faults      int
	Unreachable int
	Absent      int
	Resolved    bool
	Error       string
	Duration    time.Duration
	StartedAt   time.Time
}

// History receives a record per broadcast. Implementations must tolerate
// being called from concurrent dispatches; a failed write is the sink's
// problem and never fails the dispatch itself.
type History interface {
	RecordDispatch(ctx context.Context, rec DispatchRecord) error
}
