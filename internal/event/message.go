package event

import (
	"context"
	"log/slog"

	"github.com/solatis/factkeeper/internal/rules"
	"github.com/solatis/factkeeper/internal/types"
)

// TypeMessage is the event type served by MessageDispatcher.
const TypeMessage = "message"

// MessageDispatcher renders event params against the facts and emits them
// as a structured log record. The zero-infrastructure dispatcher: useful on
// its own for audit trails and as the development stand-in for callbacks.
type MessageDispatcher struct {
	logger *slog.Logger
	paths  rules.PathOptions
}

// NewMessageDispatcher creates a dispatcher logging through logger.
func NewMessageDispatcher(logger *slog.Logger, paths rules.PathOptions) *MessageDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageDispatcher{logger: logger, paths: paths}
}

func (d *MessageDispatcher) Type() string { return TypeMessage }

// Validate accepts any params; a message with nothing to say is still a
// deliverable message.
func (d *MessageDispatcher) Validate(params map[string]types.Value) error {
	return nil
}

// Trigger logs the rendered params at info level.
func (d *MessageDispatcher) Trigger(ctx context.Context, ev types.Event, facts types.Value) error {
	rendered := RenderParams(ev.Params, facts, d.paths)

	attrs := make([]any, 0, 2*len(rendered)+2)
	attrs = append(attrs, "event_type", ev.Type)
	for _, k := range types.Object(rendered).SortedKeys() {
		attrs = append(attrs, k, rendered[k].Interface())
	}
	d.logger.InfoContext(ctx, "rule event", attrs...)
	return nil
}
