// Package event delivers the event descriptors of passed rules to their
// configured destinations.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/factkeeper/internal/rules"
	"github.com/solatis/factkeeper/internal/types"
)

/*
 * Dispatch hub.
 *
 * Dispatchers are keyed by event type, mirroring the operator registry:
 * a capability table the host can extend, with last registration winning.
 * The hub renders nothing itself; each dispatcher renders the params it
 * needs so a callback can treat its URL differently from its payload.
 *
 * Dispatch failures are the caller's to handle; the hub never retries.
 * An optional coalescence window suppresses repeat deliveries of the same
 * group, matching the descriptor's coalescence fields.
 */

// Dispatcher delivers one kind of event.
type Dispatcher interface {
	// Type is the event type this dispatcher serves.
	Type() string

	// Validate checks params at rule load time so a rule with an
	// undeliverable event is rejected before it can pass.
	Validate(params map[string]types.Value) error

	// Trigger renders and delivers the event against the fact document
	// that made the owning rule pass.
	Trigger(ctx context.Context, ev types.Event, facts types.Value) error
}

// Hub routes events to dispatchers by type.
type Hub struct {
	dispatchers map[string]Dispatcher
	window      *Window
	paths       rules.PathOptions
	logger      *slog.Logger
}

// NewHub creates a hub with the given path syntax for template rendering.
// Dispatchers must be registered before the first Dispatch call.
func NewHub(paths rules.PathOptions, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		dispatchers: make(map[string]Dispatcher),
		window:      NewWindow(),
		paths:       paths,
		logger:      logger,
	}
}

// Register installs a dispatcher, overwriting any prior registration for
// its type.
func (h *Hub) Register(d Dispatcher) {
	h.dispatchers[d.Type()] = d
}

// Has reports whether an event type has a dispatcher.
func (h *Hub) Has(eventType string) bool {
	_, ok := h.dispatchers[eventType]
	return ok
}

// Validate checks an event descriptor against its dispatcher.
func (h *Hub) Validate(ev types.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	d, ok := h.dispatchers[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownEventType, ev.Type)
	}
	return d.Validate(ev.Params)
}

// Dispatch delivers the event unless its coalescence window suppresses it.
// Suppression is not an error; it logs at debug and returns nil.
func (h *Hub) Dispatch(ctx context.Context, ev types.Event, facts types.Value) error {
	d, ok := h.dispatchers[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownEventType, ev.Type)
	}

	if !h.window.Allow(ev) {
		h.logger.DebugContext(ctx, "event suppressed by coalescence window",
			"event_type", ev.Type,
			"group", coalescenceGroup(ev))
		return nil
	}

	if err := d.Trigger(ctx, ev, facts); err != nil {
		return fmt.Errorf("dispatch %s: %w", ev.Type, err)
	}
	return nil
}

// DispatchResults delivers the events of all passed rules, collecting
// per-event failures without stopping at the first.
func (h *Hub) DispatchResults(ctx context.Context, results []rules.RuleResult, facts types.Value) []error {
	var errs []error
	for _, res := range results {
		if !res.Passed || res.Event == nil {
			continue
		}
		if err := h.Dispatch(ctx, *res.Event, facts); err != nil {
			h.logger.ErrorContext(ctx, "event dispatch failed",
				"rule_id", string(res.RuleID),
				"event_type", res.Event.Type,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
