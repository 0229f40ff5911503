package bigip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/retry"
)

const readyPath = "/mgmt/tm/sys/ready"

// readySentinel is the description value reported by a ready subsystem.
const readySentinel = "yes"

var readyFields = []string{"configReady", "licenseReady", "provisionReady"}

var errNotReady = errors.New("device not ready")

// ReadinessResult is one poll of the readiness endpoint.
type ReadinessResult struct {
	ConfigReady    bool
	LicenseReady   bool
	ProvisionReady bool
}

// Ready reports whether every subsystem is ready.
func (r ReadinessResult) Ready() bool {
	return r.ConfigReady && r.LicenseReady && r.ProvisionReady
}

type readyStats struct {
	Entries map[string]struct {
		NestedStats struct {
			Entries map[string]struct {
				Description string `json:"description"`
			} `json:"entries"`
		} `json:"nestedStats"`
	} `json:"entries"`
}

// parseReadiness reads the readiness fields. A document without all three
// fields is an error, not a not-ready result.
func parseReadiness(resp *Response) (ReadinessResult, error) {
	var stats readyStats
	if err := resp.Decode(&stats); err != nil {
		return ReadinessResult{}, err
	}

	for _, entry := range stats.Entries {
		fields := entry.NestedStats.Entries
		values := make(map[string]bool, len(readyFields))
		for _, name := range readyFields {
			field, ok := fields[name]
			if !ok {
				return ReadinessResult{}, fmt.Errorf("readiness response missing %s", name)
			}
			values[name] = field.Description == readySentinel
		}
		return ReadinessResult{
			ConfigReady:    values["configReady"],
			LicenseReady:   values["licenseReady"],
			ProvisionReady: values["provisionReady"],
		}, nil
	}
	return ReadinessResult{}, errors.New("readiness response has no entries")
}

// CheckReady performs a single readiness poll.
func (c *Client) CheckReady(ctx context.Context) (ReadinessResult, error) {
	resp, err := c.Request(ctx, "GET", readyPath, nil)
	if err != nil {
		return ReadinessResult{}, err
	}
	return parseReadiness(resp)
}

// IsReady polls readiness under the ready policy. It returns true once every
// subsystem reports ready, and interfaces.ErrReadyCheckFailed when the policy
// is exhausted first. Unreachable devices and malformed answers consume
// attempts like not-ready answers.
func (c *Client) IsReady(ctx context.Context) (bool, error) {
	start := time.Now()
	policy := c.state.ReadyPolicy.With(c.log, "ready check")

	_, err := retry.Do(ctx, policy, func(ctx context.Context) (ReadinessResult, error) {
		result, err := c.CheckReady(ctx)
		if err != nil {
			return result, err
		}
		if !result.Ready() {
			return result, fmt.Errorf("%w: config=%t license=%t provision=%t",
				errNotReady, result.ConfigReady, result.LicenseReady, result.ProvisionReady)
		}
		return result, nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrRetryExhausted) {
			c.log.Error("Device did not become ready",
				slog.Int("attempts", policy.Attempts()),
				slog.Duration("duration", time.Since(start)),
				"err", err)
			return false, fmt.Errorf("%w: %w", interfaces.ErrReadyCheckFailed, err)
		}
		return false, err
	}

	c.log.Info("Device is ready", slog.Duration("duration", time.Since(start)))
	return true, nil
}
