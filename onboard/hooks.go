package onboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
)

const (
	hookTimeout = 30 * time.Second
	// postHookDeadline bounds delivery of all post hooks of a run.
	postHookDeadline = 5 * time.Minute
)

// HookPayload is the body posted to webhook post hooks.
type HookPayload struct {
	Summary
	Properties map[string]string `json:"properties,omitempty"`
}

// runPostHooks notifies every post hook of the run outcome. Failures are
// logged and never change the outcome.
func (o *Orchestrator) runPostHooks(ctx context.Context, summary Summary) {
	for i, hook := range o.doc.PostHooks {
		name := hook.Name
		if name == "" {
			name = fmt.Sprintf("post_hook[%d]", i)
		}
		if err := o.notify(ctx, hook, summary); err != nil {
			o.log.Warn("Post hook failed", slog.String("hook", name), "err", o.mask(err.Error()))
			continue
		}
		o.log.Info("Post hook notified", slog.String("hook", name))
	}
}

func (o *Orchestrator) notify(ctx context.Context, hook interfaces.PostHook, summary Summary) error {
	if hook.Type != "" && hook.Type != "webhook" {
		return fmt.Errorf("unsupported post hook type %q", hook.Type)
	}

	target, err := o.render(hook.URL)
	if err != nil {
		return err
	}
	body, err := json.Marshal(HookPayload{Summary: summary, Properties: hook.Properties})
	if err != nil {
		return err
	}

	policy := o.networkPolicy
	client := retryablehttp.NewClient()
	client.HTTPClient = resolver.NewHTTPClient(hookTimeout, !interfaces.BoolOr(hook.VerifyTLS, true))
	client.Logger = o.log
	client.RetryMax = policy.Attempts() - 1
	client.RetryWaitMin = policy.Interval
	client.RetryWaitMax = policy.Interval
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &interfaces.TransportError{Op: "post hook", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &interfaces.ApplicationError{Method: http.MethodPost, URL: target, Status: resp.StatusCode}
	}
	return nil
}
