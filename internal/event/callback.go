package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/solatis/factkeeper/internal/rules"
	"github.com/solatis/factkeeper/internal/types"
)

// TypeCallback is the event type served by CallbackDispatcher.
const TypeCallback = "post_to_callback_url"

// DefaultCallbackTimeout bounds one callback delivery end to end.
const DefaultCallbackTimeout = 10 * time.Second

// maxCallbackResponseBytes caps how much of an error response body is read
// back for diagnostics.
const maxCallbackResponseBytes = 4096

// CallbackDispatcher POSTs the rendered event params and the fact document
// to the URL named in the event's "url" param. The URL itself may contain
// placeholders so facts can address the destination.
type CallbackDispatcher struct {
	client *http.Client
	paths  rules.PathOptions
}

// NewCallbackDispatcher creates a dispatcher with the given client.
// A nil client gets a default with DefaultCallbackTimeout.
func NewCallbackDispatcher(client *http.Client, paths rules.PathOptions) *CallbackDispatcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultCallbackTimeout}
	}
	return &CallbackDispatcher{client: client, paths: paths}
}

func (d *CallbackDispatcher) Type() string { return TypeCallback }

// Validate requires a non-empty string "url" param.
func (d *CallbackDispatcher) Validate(params map[string]types.Value) error {
	raw, ok := params["url"]
	if !ok {
		return fmt.Errorf("callback event requires a url param")
	}
	s, ok := raw.AsString()
	if !ok || s == "" {
		return fmt.Errorf("callback url must be a non-empty string")
	}
	return nil
}

// callbackPayload is the JSON body delivered to the callback URL.
type callbackPayload struct {
	Event map[string]any `json:"event"`
	Facts any            `json:"facts"`
}

// Trigger renders the URL and params, then POSTs the payload.
// A non-2xx response is a delivery failure.
func (d *CallbackDispatcher) Trigger(ctx context.Context, ev types.Event, facts types.Value) error {
	rendered := RenderParams(ev.Params, facts, d.paths)

	rawURL, _ := rendered["url"].AsString()
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid callback url %q: %w", rawURL, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return fmt.Errorf("callback url %q must be http or https", rawURL)
	}

	// The url param addresses the request; it is not part of the payload.
	params := make(map[string]any, len(rendered))
	for k, v := range rendered {
		if k == "url" {
			continue
		}
		params[k] = v.Interface()
	}

	body, err := json.Marshal(callbackPayload{Event: params, Facts: facts.Interface()})
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxCallbackResponseBytes))
		return fmt.Errorf("callback %s returned %d: %s", target.String(), resp.StatusCode, snippet)
	}
	return nil
}
