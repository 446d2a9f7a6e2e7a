package observer

import (
	"context"
	"time"

	"github.com/tunehub/tunefree-bridge/bridge"
)

// Options tunes the position-polling fallback.
type Options struct {
	// PollInterval is the position sampling period.
	PollInterval time.Duration
	// EndGuard is how close to the track duration, in seconds, a sampled
	// position counts as finished. Some speakers go straight from near-end
	// playing to an unrelated state without ever reporting idle.
	EndGuard float64
}

// Observer watches the target player's transport state and tells the engine
// when a track ran out. It distinguishes a natural end from transitions the
// engine caused itself, and it never mutates the engine directly: triggers
// go through the sequencer like every other queue command.
type Observer struct {
	engine bridge.QueueEngine
	seq    bridge.Sequencer
	state  bridge.PlayerStateSource
	logger bridge.Logger
	opts   Options

	// lastFired is the session URL the polling loop already fired for, so
	// a track lingering near its end does not fire on every sample.
	lastFired string
}

// New creates an observer.
func New(engine bridge.QueueEngine, seq bridge.Sequencer, state bridge.PlayerStateSource, logger bridge.Logger, opts Options) *Observer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.EndGuard <= 0 {
		opts.EndGuard = 2
	}
	return &Observer{
		engine: engine,
		seq:    seq,
		state:  state,
		logger: logger,
		opts:   opts,
	}
}

// HandleStateChange processes one state transition reported by the player.
// Only playing to idle with a non-empty queue counts as a track end, and
// only while the engine is not already mid-transition.
func (o *Observer) HandleStateChange(ctx context.Context, oldState, newState string) {
	if oldState != bridge.StatePlaying || newState != bridge.StateIdle {
		return
	}
	if o.engine.Count() == 0 || o.engine.Advancing() {
		return
	}
	o.logger.Debug("track finished, advancing queue")
	if err := o.seq.Submit(func() { o.engine.OnTrackFinished(ctx) }); err != nil {
		o.logger.Warn("track-end trigger dropped", "error", err)
	}
}

// Run polls the player position until the context is cancelled. This is the
// fallback for players whose idle reports are unreliable; it fires the same
// track-end trigger when the adjusted position reaches the end guard.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.sample(ctx)
		}
	}
}

func (o *Observer) sample(ctx context.Context) {
	if o.engine.Count() == 0 || o.engine.Advancing() {
		return
	}
	session := o.engine.Session()
	if session.URL == "" {
		return
	}
	if session.URL != o.lastFired {
		o.lastFired = ""
	}

	snap, err := o.state.Snapshot(ctx)
	if err != nil {
		o.logger.Debug("position sample failed", "error", err)
		return
	}
	if snap.State != bridge.StatePlaying || snap.Duration <= 0 {
		return
	}

	position := snap.Position
	if !snap.PositionUpdatedAt.IsZero() {
		position += time.Since(snap.PositionUpdatedAt).Seconds()
	}
	if position < snap.Duration-o.opts.EndGuard {
		// The position moved back below the guard: the track restarted.
		// Repeat replays the same URL, so rearm here, not just on URL change.
		o.lastFired = ""
		return
	}
	if session.URL == o.lastFired {
		return
	}
	o.lastFired = session.URL

	o.logger.Debug("position reached track end", "position", position, "duration", snap.Duration)
	if err := o.seq.Submit(func() { o.engine.OnTrackFinished(ctx) }); err != nil {
		o.logger.Warn("track-end trigger dropped", "error", err)
	}
}
