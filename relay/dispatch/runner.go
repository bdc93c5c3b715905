package dispatch

import (
	"context"
	"hash/fnv"

	"github.com/ZanzyTHEbar/chatrelay/relay/messenger"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// laneBuffer is how many events may wait on one lane.
const laneBuffer = 16

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev messenger.Event)
}

// Runner fans events out to a fixed number of lanes. A user always maps to
// the same lane and each lane is sequential, so one user's events are handled
// in arrival order while different users progress in parallel.
type Runner struct {
	handler Handler
	lanes   int
	logger  zerolog.Logger
}

// NewRunner creates a runner with the given number of lanes (at least one).
func NewRunner(handler Handler, lanes int, logger zerolog.Logger) *Runner {
	if lanes < 1 {
		lanes = 1
	}
	return &Runner{
		handler: handler,
		lanes:   lanes,
		logger:  logger,
	}
}

// Run consumes events until the channel closes or ctx is done. Events that
// already started run to completion; queued events are dropped on shutdown.
func (r *Runner) Run(ctx context.Context, events <-chan messenger.Event) {
	lanes := make([]chan messenger.Event, r.lanes)
	wg := conc.NewWaitGroup()
	for i := range lanes {
		lane := make(chan messenger.Event, laneBuffer)
		lanes[i] = lane
		wg.Go(func() {
			for ev := range lane {
				if ctx.Err() != nil {
					r.logger.Warn().Str("user", ev.UserID).Msg("Dropping event on shutdown")
					continue
				}
				r.handle(context.WithoutCancel(ctx), ev)
			}
		})
	}

	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			select {
			case lanes[r.laneFor(ev.UserID)] <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Runner) laneFor(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(r.lanes))
}

// handle isolates a panicking event so it cannot take down its lane.
func (r *Runner) handle(ctx context.Context, ev messenger.Event) {
	var pc panics.Catcher
	pc.Try(func() { r.handler.Handle(ctx, ev) })
	if rec := pc.Recovered(); rec != nil {
		r.logger.Error().
			Str("user", ev.UserID).
			Interface("panic", rec.Value).
			Str("stack", string(rec.Stack)).
			Msg("Recovered panic while handling event")
	}
}
