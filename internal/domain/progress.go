package domain

import (
	"context"
	"time"
)

// Pipeline stages reported on progress events.
const (
	StageParse     = "parse"
	StageResolve   = "resolve"
	StagePrice     = "price"
	StageGuard     = "guard"
	StageBuild     = "build"
	StageSubmit    = "submit"
	StageRemediate = "remediate"
	StageDone      = "done"
)

// ProgressEvent is a single user-visible status update for a request.
type ProgressEvent struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// ProgressSink receives progress events in order. Implementations must not
// block the pipeline for long.
type ProgressSink interface {
	Progress(ctx context.Context, ev ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, ev ProgressEvent)

func (f ProgressFunc) Progress(ctx context.Context, ev ProgressEvent) { f(ctx, ev) }

// DiscardProgress drops every event.
var DiscardProgress ProgressSink = ProgressFunc(func(context.Context, ProgressEvent) {})
