package types

// Event describes what happens when a rule's condition tree is satisfied.
// Opaque to the condition engine; handed unchanged to dispatch when the
// owning rule passes. Params commonly carry template strings rendered
// against the fact document by the dispatcher.
type Event struct {
	// Type selects the dispatcher (e.g. "message", "post_to_callback_url").
	Type string `json:"type"`

	// Params is an arbitrary key/value payload for the dispatcher.
	Params map[string]Value `json:"params,omitempty"`

	// Coalescence suppresses repeat triggers of the same CoalescenceGroup
	// within this many seconds. Zero disables suppression.
	Coalescence int64 `json:"coalescence,omitempty"`

	// CoalescenceGroup names the suppression bucket. Defaults to the
	// event type when empty.
	CoalescenceGroup string `json:"coalescence_group,omitempty"`
}

// Validate checks the descriptor is structurally usable.
func (e Event) Validate() error {
	if e.Type == "" {
		return ErrEventTypeMissing
	}
	return nil
}

// Clone returns a deep copy. Params values are immutable, so copying the
// map is sufficient.
func (e Event) Clone() Event {
	out := e
	if e.Params != nil {
		out.Params = make(map[string]Value, len(e.Params))
		for k, v := range e.Params {
			out.Params[k] = v
		}
	}
	return out
}

// ParamsInterface converts Params to plain Go values for JSON payloads.
func (e Event) ParamsInterface() map[string]any {
	out := make(map[string]any, len(e.Params))
	for k, v := range e.Params {
		out[k] = v.Interface()
	}
	return out
}
