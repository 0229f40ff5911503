package bigip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/retry"
)

var errTaskPending = errors.New("task still running")

type taskStatus int

const (
	taskPending taskStatus = iota
	taskDone
	taskFailed
)

// taskDocument covers the task shapes used by package management,
// declarative onboarding and application services.
type taskDocument struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Result       *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"result"`
	Results []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"results"`
}

// taskState classifies a task poll response and returns a failure message.
func taskState(resp *Response) (taskStatus, string) {
	if resp.Status == http.StatusAccepted {
		return taskPending, ""
	}

	var doc taskDocument
	if err := resp.Decode(&doc); err != nil {
		return taskDone, ""
	}

	switch strings.ToUpper(doc.Status) {
	case "FINISHED":
		return taskDone, ""
	case "FAILED":
		return taskFailed, doc.ErrorMessage
	case "CREATED", "STARTED":
		return taskPending, ""
	}

	if doc.Result != nil {
		switch strings.ToUpper(doc.Result.Status) {
		case "RUNNING":
			return taskPending, ""
		case "ERROR":
			return taskFailed, doc.Result.Message
		}
	}

	for _, r := range doc.Results {
		if r.Message == "in progress" {
			return taskPending, ""
		}
		if r.Code >= 400 || strings.Contains(r.Message, "failed") {
			return taskFailed, r.Message
		}
	}
	return taskDone, ""
}

// WaitForTask polls an asynchronous task under the task policy until it
// finishes. A failed task or a client error is returned without further polling.
func (c *Client) WaitForTask(ctx context.Context, taskPath string) (*Response, error) {
	start := time.Now()
	var failure error

	resp, err := retry.Do(ctx, c.state.TaskPolicy.With(c.log, "task "+taskPath), func(ctx context.Context) (*Response, error) {
		resp, err := c.Request(ctx, "GET", taskPath, nil)
		if err != nil {
			var appErr *interfaces.ApplicationError
			if errors.As(err, &appErr) && appErr.Status >= 400 && appErr.Status < 500 && appErr.Status != http.StatusNotFound {
				failure = err
				return nil, nil
			}
			return nil, err
		}

		switch status, message := taskState(resp); status {
		case taskPending:
			return nil, errTaskPending
		case taskFailed:
			failure = fmt.Errorf("task failed: %s", message)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}

	c.log.Debug("Task finished", slog.String("task", taskPath), slog.Duration("duration", time.Since(start)))
	return resp, nil
}

// AwaitEndpoint polls path under the task policy until it answers with 2xx.
func (c *Client) AwaitEndpoint(ctx context.Context, path string) (*Response, error) {
	return retry.Do(ctx, c.state.TaskPolicy.With(c.log, "await "+path), func(ctx context.Context) (*Response, error) {
		return c.Request(ctx, "GET", path, nil)
	})
}

// AwaitResponse follows a possibly asynchronous answer to a declaration.
// 202 answers are polled at taskPath until the task settles; other answers
// are returned as they are.
func (c *Client) AwaitResponse(ctx context.Context, resp *Response, taskPath string) (*Response, error) {
	if resp.Status != http.StatusAccepted {
		if status, message := taskState(resp); status == taskFailed {
			return nil, fmt.Errorf("declaration failed: %s", message)
		}
		return resp, nil
	}
	if taskPath == "" {
		return resp, nil
	}
	return c.WaitForTask(ctx, taskPath)
}

// TaskID returns the "id" of an asynchronous task answer, or "" when absent.
func TaskID(resp *Response) string {
	var task struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&task); err != nil {
		return ""
	}
	return task.ID
}
