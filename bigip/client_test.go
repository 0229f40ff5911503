package bigip

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	state := DefaultState()
	state.Scheme = u.Scheme
	state.Host = u.Hostname()
	state.Port = port
	state.Password = "admin-pass"
	state.ReadyPolicy = retry.Policy{MaxRetries: 5}
	state.TaskPolicy = retry.Policy{MaxRetries: 5}
	return NewClient(testLogger(), state)
}

func readyBody(config, license, provision string) string {
	return fmt.Sprintf(`{
  "kind": "tm:sys:ready:readystats",
  "entries": {
    "https://localhost/mgmt/tm/sys/ready/0": {
      "nestedStats": {
        "entries": {
          "configReady": {"description": %q},
          "licenseReady": {"description": %q},
          "provisionReady": {"description": %q}
        }
      }
    }
  }
}`, config, license, provision)
}

func TestDefaultState(t *testing.T) {
	state := DefaultState()
	assert.Equal(t, 8100, state.Port)
	assert.True(t, state.VerifyTLS)
	assert.Equal(t, 120, state.ReadyPolicy.MaxRetries)

	c := NewClient(testLogger(), State{Host: "10.0.0.5"})
	assert.Equal(t, "http://10.0.0.5:8100", c.BaseURL())
}

func TestIsReady_BecomesReady(t *testing.T) {
	var mu sync.Mutex
	polls := 0

	r := chi.NewRouter()
	r.Get("/mgmt/tm/sys/ready", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "admin-pass", pass)

		mu.Lock()
		polls++
		n := polls
		mu.Unlock()

		if n < 3 {
			w.Write([]byte(readyBody("yes", "no", "yes")))
			return
		}
		w.Write([]byte(readyBody("yes", "yes", "yes")))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	ready, err := newTestClient(t, server.URL).IsReady(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 3, polls)
}

func TestIsReady_Exhausted(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"never ready", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(readyBody("no", "no", "no")))
		}},
		{"unexpected shape", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"entries": {"x": {"nestedStats": {"entries": {"configReady": {"description": "yes"}}}}}}`))
		}},
		{"empty entries", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"entries": {}}`))
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>starting</html>`))
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "restjavad restarting", http.StatusServiceUnavailable)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			polls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				polls++
				mu.Unlock()
				tt.handler(w, r)
			}))
			defer server.Close()

			ready, err := newTestClient(t, server.URL).IsReady(context.Background())
			require.Error(t, err)
			assert.False(t, ready)
			assert.ErrorIs(t, err, interfaces.ErrReadyCheckFailed)
			assert.Equal(t, 5, polls)
		})
	}
}

func TestIsReady_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	ready, err := newTestClient(t, addr).IsReady(context.Background())
	assert.False(t, ready)
	assert.ErrorIs(t, err, interfaces.ErrReadyCheckFailed)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
}

func TestIsReady_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(readyBody("no", "no", "no")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.IsReady(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrReadyCheckFailed)
}

func TestParseReadiness(t *testing.T) {
	result, err := parseReadiness(&Response{Body: []byte(readyBody("yes", "YES", "yes"))})
	require.NoError(t, err)
	assert.True(t, result.ConfigReady)
	assert.False(t, result.LicenseReady)
	assert.False(t, result.Ready())
}

func TestRequest_Errors(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/mgmt/shared/appsvcs/declare", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":422,"message":"declaration is invalid"}`))
	})
	r.Get("/mgmt/shared/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})
	server := httptest.NewServer(r)
	c := newTestClient(t, server.URL)

	resp, err := c.Request(context.Background(), "GET", "mgmt/shared/echo", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	var body map[string]bool
	require.NoError(t, resp.Decode(&body))
	assert.True(t, body["ok"])

	_, err = c.Request(context.Background(), "POST", "/mgmt/shared/appsvcs/declare", map[string]string{"class": "AS3"})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrApplication)
	assert.NotErrorIs(t, err, interfaces.ErrTransport)

	var appErr *interfaces.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 422, appErr.Status)
	assert.Contains(t, appErr.Body, "declaration is invalid")

	server.Close()
	_, err = c.Request(context.Background(), "GET", "/mgmt/shared/echo", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
	assert.NotErrorIs(t, err, interfaces.ErrApplication)
}

// fakePackageAPI records uploads and serves package-management tasks.
type fakePackageAPI struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	ranges    []string
	installed []Package
	tasks     map[string]map[string]any
	polls     map[string]int
	failWith  string
}

func newFakePackageAPI() *fakePackageAPI {
	return &fakePackageAPI{
		uploads: make(map[string][]byte),
		tasks:   make(map[string]map[string]any),
		polls:   make(map[string]int),
	}
}

func (f *fakePackageAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/mgmt/shared/file-transfer/uploads/{name}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		name := chi.URLParam(r, "name")
		f.uploads[name] = append(f.uploads[name], data...)
		f.ranges = append(f.ranges, r.Header.Get("Content-Range"))
		w.Write([]byte(`{}`))
	})
	r.Post("/mgmt/shared/iapp/package-management-tasks", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		id := fmt.Sprintf("task-%d", len(f.tasks)+1)
		task := map[string]any{"id": id, "operation": req["operation"], "status": "CREATED"}
		switch req["operation"] {
		case "INSTALL":
			if f.failWith != "" {
				task["errorMessage"] = f.failWith
			} else {
				f.installed = append(f.installed, Package{Name: "f5-appsvcs", Version: "3.50.0", PackageName: filepath.Base(req["packageFilePath"])})
			}
		case "QUERY":
			task["queryResponse"] = f.installed
		}
		f.tasks[id] = task
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(task)
	})
	r.Get("/mgmt/shared/iapp/package-management-tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := chi.URLParam(r, "id")
		task, ok := f.tasks[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.polls[id]++
		if f.polls[id] > 1 {
			task["status"] = "FINISHED"
			if f.failWith != "" {
				task["status"] = "FAILED"
			}
		} else {
			task["status"] = "STARTED"
		}
		json.NewEncoder(w).Encode(task)
	})
	return r
}

func TestUploadFile_Chunks(t *testing.T) {
	api := newFakePackageAPI()
	server := httptest.NewServer(api.router())
	defer server.Close()

	content := []byte("0123456789abcdefghij-rpm")
	path := filepath.Join(t.TempDir(), "f5-appsvcs-3.50.0-5.noarch.rpm")
	require.NoError(t, os.WriteFile(path, content, 0600))

	c := newTestClient(t, server.URL)
	c.chunkSize = 10

	remote, err := c.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "/var/config/rest/downloads/f5-appsvcs-3.50.0-5.noarch.rpm", remote)
	assert.Equal(t, content, api.uploads["f5-appsvcs-3.50.0-5.noarch.rpm"])
	assert.Equal(t, []string{"0-9/24", "10-19/24", "20-23/24"}, api.ranges)
}

func TestUploadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.rpm")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	_, err := newTestClient(t, "http://127.0.0.1:1").UploadFile(context.Background(), path)
	assert.Error(t, err)
}

func TestInstallPackage(t *testing.T) {
	api := newFakePackageAPI()
	server := httptest.NewServer(api.router())
	defer server.Close()
	c := newTestClient(t, server.URL)

	require.NoError(t, c.InstallPackage(context.Background(), "/var/config/rest/downloads/f5-appsvcs-3.50.0-5.noarch.rpm"))
	assert.Equal(t, 2, api.polls["task-1"])

	packages, err := c.InstalledPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, packages, 1)

	found, ok := FindPackage(packages, "f5-appsvcs")
	assert.True(t, ok)
	assert.Equal(t, "3.50.0", found.Version)

	_, ok = FindPackage(packages, "f5-telemetry")
	assert.False(t, ok)
}

func TestInstallPackage_TaskFailed(t *testing.T) {
	api := newFakePackageAPI()
	api.failWith = "Package f5-appsvcs is already installed"
	server := httptest.NewServer(api.router())
	defer server.Close()

	err := newTestClient(t, server.URL).InstallPackage(context.Background(), "/var/config/rest/downloads/f5-appsvcs.rpm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already installed")
	assert.Equal(t, 2, api.polls["task-1"])
}

func TestWaitForTask_Exhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"result":{"status":"RUNNING"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).WaitForTask(context.Background(), "/mgmt/shared/declarative-onboarding/task/1")
	assert.ErrorIs(t, err, interfaces.ErrRetryExhausted)
}

func TestWaitForTask_ClientErrorStops(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"result":{"status":"ERROR","message":"invalid config"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).WaitForTask(context.Background(), "/task")
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrApplication)
	assert.Equal(t, 1, polls)
}

func TestTaskState(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   taskStatus
	}{
		{"accepted", 202, `{}`, taskPending},
		{"package finished", 200, `{"status":"FINISHED"}`, taskDone},
		{"package failed", 200, `{"status":"FAILED","errorMessage":"x"}`, taskFailed},
		{"package started", 200, `{"status":"STARTED"}`, taskPending},
		{"onboarding ok", 200, `{"result":{"status":"OK"}}`, taskDone},
		{"onboarding error", 200, `{"result":{"status":"ERROR","message":"bad"}}`, taskFailed},
		{"appsvcs in progress", 200, `{"results":[{"message":"in progress"}]}`, taskPending},
		{"appsvcs success", 200, `{"results":[{"message":"success","code":200}]}`, taskDone},
		{"appsvcs failed", 200, `{"results":[{"message":"declaration failed","code":422}]}`, taskFailed},
		{"array body", 200, `[{"id":"1"}]`, taskDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := taskState(&Response{Status: tt.status, Body: []byte(tt.body)})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAwaitEndpoint(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := chi.NewRouter()
	r.Get("/mgmt/shared/appsvcs/info", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"version":"3.50.0"}`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	resp, err := newTestClient(t, server.URL).AwaitEndpoint(context.Background(), "/mgmt/shared/appsvcs/info")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 3, calls)
}

func TestAwaitResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mgmt/shared/appsvcs/task/abc", r.URL.Path)
		w.Write([]byte(`{"results":[{"message":"success","code":200}]}`))
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)

	sync200 := &Response{Status: 200, Body: []byte(`{"results":[{"message":"success"}]}`)}
	resp, err := c.AwaitResponse(context.Background(), sync200, "")
	require.NoError(t, err)
	assert.Same(t, sync200, resp)

	accepted := &Response{Status: 202, Body: []byte(`{"id":"abc"}`)}
	assert.Equal(t, "abc", TaskID(accepted))
	resp, err = c.AwaitResponse(context.Background(), accepted, "/mgmt/shared/appsvcs/task/"+TaskID(accepted))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	_, err = c.AwaitResponse(context.Background(), &Response{Status: 200, Body: []byte(`{"result":{"status":"ERROR","message":"nope"}}`)}, "")
	assert.Error(t, err)
}

func TestClient_CustomRootCAs(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(readyBody("yes", "yes", "yes")))
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	state := DefaultState()
	state.Scheme = "https"
	state.Host = u.Hostname()
	state.Port = port
	state.ReadyPolicy = retry.Policy{MaxRetries: 1}

	_, err = NewClient(testLogger(), state).CheckReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransport)

	pool := x509.NewCertPool()
	pool.AddCert(server.Certificate())
	state.RootCAs = pool
	result, err := NewClient(testLogger(), state).CheckReady(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Ready())
}
