package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kanapal/kanapal/internal/metrics"
	"github.com/kanapal/kanapal/internal/rules"
	"github.com/kanapal/kanapal/internal/state"
	"github.com/kanapal/kanapal/internal/util"
	"github.com/kanapal/kanapal/internal/wm"
)

type kanataClient interface {
	ChangeLayer(ctx context.Context, name string) error
	ActOnFakeKey(ctx context.Context, name, action string) error
	SetMouse(ctx context.Context, x, y int) error
}

type commandRunner interface {
	Run(command string, env map[string]string)
}

const (
	defaultSubscribeRetries = 5
	defaultRetryDelay       = 2 * time.Second
)

// Engine ties the focus stream to rule resolution and kanata dispatch.
type Engine struct {
	listener wm.Listener
	client   kanataClient
	runner   commandRunner
	logger   *util.Logger
	metrics  *metrics.Collector

	mu         sync.Mutex
	ruleset    *rules.Ruleset
	globalExec string
	tracker    *state.Tracker

	subscribeRetries int
	retryDelay       time.Duration
}

// New creates an engine instance around an already-compiled ruleset.
func New(listener wm.Listener, client kanataClient, runner commandRunner, logger *util.Logger, collector *metrics.Collector, ruleset *rules.Ruleset, globalExec string) *Engine {
	return &Engine{
		listener:         listener,
		client:           client,
		runner:           runner,
		logger:           logger,
		metrics:          collector,
		ruleset:          ruleset,
		globalExec:       globalExec,
		tracker:          state.NewTracker(),
		subscribeRetries: defaultSubscribeRetries,
		retryDelay:       defaultRetryDelay,
	}
}

// ReloadRules swaps in a new ruleset without resetting layer state, so a
// reload does not re-send the layer the daemon is already on.
func (e *Engine) ReloadRules(ruleset *rules.Ruleset, globalExec string) {
	e.mu.Lock()
	e.ruleset = ruleset
	e.globalExec = globalExec
	e.mu.Unlock()
	e.logger.Infof("reloaded %d rules (base layer %q)", ruleset.Len(), ruleset.BaseLayer())
}

// Run subscribes to the focus stream and dispatches until context
// cancellation. Transient stream failures are retried a bounded number of
// times; a retry counts from zero again after any successful delivery.
func (e *Engine) Run(ctx context.Context) error {
	attempts := 0
	for {
		delivered := false
		err := e.listener.Subscribe(ctx, func(win wm.Window) {
			delivered = true
			e.handleFocus(ctx, win)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			attempts = 0
		}
		attempts++
		if attempts > e.subscribeRetries {
			return err
		}
		e.logger.Warnf("%s stream failed (attempt %d/%d): %v", e.listener.Name(), attempts, e.subscribeRetries, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.retryDelay):
		}
	}
}

func (e *Engine) handleFocus(ctx context.Context, win wm.Window) {
	e.mu.Lock()
	ruleset := e.ruleset
	globalExec := e.globalExec
	e.mu.Unlock()

	e.logger.Debugf("focus: class=%q title=%q", win.Class, win.Title)
	action := ruleset.Resolve(win)
	if action == nil {
		return
	}
	label := action.Label()
	e.metrics.RecordMatch(label)
	if !e.tracker.ShouldDispatch(action) {
		e.logger.Debugf("%s suppressed: layer %q already active", label, action.Layer)
		return
	}

	layerSent := false
	sendFailed := false
	if e.tracker.NeedsLayer(action) {
		if err := e.client.ChangeLayer(ctx, action.Layer); err != nil {
			e.logger.Errorf("%s: change layer to %q: %v", label, action.Layer, err)
			e.metrics.RecordSendError(label)
			sendFailed = true
		} else {
			layerSent = true
			e.logger.Infof("%s: layer %q (class=%q title=%q)", label, action.Layer, win.Class, win.Title)
		}
	}
	if action.FakeKey != nil {
		if err := e.client.ActOnFakeKey(ctx, action.FakeKey.Name, action.FakeKey.Action); err != nil {
			e.logger.Errorf("%s: fake key %s %s: %v", label, action.FakeKey.Name, action.FakeKey.Action, err)
			e.metrics.RecordSendError(label)
			sendFailed = true
		} else {
			e.logger.Debugf("%s: fake key %s %s", label, action.FakeKey.Name, action.FakeKey.Action)
		}
	}
	if action.SetMouse != nil {
		if err := e.client.SetMouse(ctx, action.SetMouse.X, action.SetMouse.Y); err != nil {
			e.logger.Errorf("%s: set mouse (%d,%d): %v", label, action.SetMouse.X, action.SetMouse.Y, err)
			e.metrics.RecordSendError(label)
			sendFailed = true
		} else {
			e.logger.Debugf("%s: mouse moved to (%d,%d)", label, action.SetMouse.X, action.SetMouse.Y)
		}
	}
	if action.Cmd != "" {
		e.runner.Run(action.Cmd, e.commandEnv(action))
	}
	if layerSent && globalExec != "" {
		e.runner.Run(globalExec, map[string]string{"CURRENT_LAYER": action.Layer})
	}

	e.tracker.Commit(action, layerSent)
	if !sendFailed {
		e.metrics.RecordDispatch(label)
	}
}

// commandEnv exposes the effective layer to rule commands. When the action
// itself carries no layer the last committed layer is used, if any.
func (e *Engine) commandEnv(action *rules.Action) map[string]string {
	layer := action.Layer
	if !action.HasLayer {
		last, ok := e.tracker.LastLayer()
		if !ok {
			return nil
		}
		layer = last
	}
	return map[string]string{"CURRENT_LAYER": layer}
}
