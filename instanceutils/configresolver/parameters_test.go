package configresolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
	"github.com/ruteri/runtime-init/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadCall struct {
	uri  string
	opts resolver.Options
}

// fakeLoader serves content by URI and fails the first failures[uri] loads.
type fakeLoader struct {
	content  map[string]any
	failures map[string]int
	calls    []loadCall
}

func (f *fakeLoader) Load(_ context.Context, uri string, opts resolver.Options) (any, error) {
	f.calls = append(f.calls, loadCall{uri: uri, opts: opts})
	if f.failures[uri] > 0 {
		f.failures[uri]--
		return nil, errors.New("connection refused")
	}
	content, ok := f.content[uri]
	if !ok {
		return nil, interfaces.ErrUnknownLocationType
	}
	return content, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWait(attempts int) retry.Policy {
	return retry.Policy{MaxRetries: attempts}
}

func TestResolveParameters(t *testing.T) {
	verify := false
	loader := &fakeLoader{
		content: map[string]any{
			"file:///config/hostname": "bigip1",
			"https://meta.example.com/net": &resolver.HTTPResponse{Code: 200, Body: map[string]any{
				"interfaces": []any{map[string]any{"ip": "10.0.1.4/24"}},
			}},
			"aws://secret/admin-pass": "s3cr3t",
			"gcp://metadata/compute/zone": "us-west1-a",
		},
	}

	specs := []interfaces.RuntimeParameter{
		{Name: "HOST_NAME", Type: interfaces.ParameterURL, Value: "file:///config/hostname"},
		{Name: "GATEWAY", Type: interfaces.ParameterURL, Value: "https://meta.example.com/net",
			Query: "interfaces[0].ip", IPCalc: "first", VerifyTLS: &verify,
			Headers: []interfaces.Header{{Name: "Metadata-Flavor", Value: "Google"}}},
		{Name: "ADMIN_PASS", Type: interfaces.ParameterSecret, SecretProvider: &interfaces.SecretProvider{Environment: "aws", SecretID: "admin-pass"}},
		{Name: "ZONE", Type: interfaces.ParameterMetadata, MetadataProvider: &interfaces.MetadataProvider{Environment: "gcp", Type: "compute", Field: "zone"}},
		{Name: "REGION", Type: interfaces.ParameterStatic, Value: "us-west1"},
	}

	params, err := ResolveParameters(context.Background(), testLogger(), specs, loader, noWait(1))
	require.NoError(t, err)

	assert.Equal(t, []string{"HOST_NAME", "GATEWAY", "ADMIN_PASS", "ZONE", "REGION"}, params.Names())
	for name, want := range map[string]string{
		"HOST_NAME":  "bigip1",
		"GATEWAY":    "10.0.1.1",
		"ADMIN_PASS": "s3cr3t",
		"ZONE":       "us-west1-a",
		"REGION":     "us-west1",
	} {
		got, ok := params.Get(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	assert.Equal(t, []string{"s3cr3t"}, params.SecretValues())

	require.Len(t, loader.calls, 4)
	assert.True(t, loader.calls[1].opts.SkipTLSVerify)
	assert.Equal(t, map[string]string{"Metadata-Flavor": "Google"}, loader.calls[1].opts.Headers)
	assert.Equal(t, interfaces.ParameterSecret, loader.calls[2].opts.ParameterType)
	assert.Equal(t, "admin-pass", loader.calls[2].opts.Secret.SecretID)
	assert.False(t, loader.calls[0].opts.SkipTLSVerify)
}

func TestResolveParameters_Retries(t *testing.T) {
	loader := &fakeLoader{
		content:  map[string]any{"file:///v": int64(12345)},
		failures: map[string]int{"file:///v": 2},
	}
	specs := []interfaces.RuntimeParameter{{Name: "V", Type: interfaces.ParameterURL, Value: "file:///v"}}

	params, err := ResolveParameters(context.Background(), testLogger(), specs, loader, noWait(3))
	require.NoError(t, err)
	v, _ := params.Get("V")
	assert.Equal(t, "12345", v)
	assert.Len(t, loader.calls, 3)
}

func TestResolveParameters_ExhaustedStopsResolution(t *testing.T) {
	loader := &fakeLoader{
		content:  map[string]any{"file:///a": "a", "file:///b": "b"},
		failures: map[string]int{"file:///a": 10},
	}
	specs := []interfaces.RuntimeParameter{
		{Name: "A", Type: interfaces.ParameterURL, Value: "file:///a"},
		{Name: "B", Type: interfaces.ParameterURL, Value: "file:///b"},
	}

	_, err := ResolveParameters(context.Background(), testLogger(), specs, loader, noWait(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrRetryExhausted)
	assert.Contains(t, err.Error(), "runtime parameter A")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, loader.calls, 2)
}

func TestResolveParameters_HTTPErrorStatusIsRetried(t *testing.T) {
	loader := &fakeLoader{content: map[string]any{
		"http://meta/x": &resolver.HTTPResponse{Code: 503, Body: "unavailable"},
	}}
	specs := []interfaces.RuntimeParameter{{Name: "X", Type: interfaces.ParameterURL, Value: "http://meta/x"}}

	_, err := ResolveParameters(context.Background(), testLogger(), specs, loader, noWait(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrApplication)
	assert.Len(t, loader.calls, 2)
}

func TestResolveParameters_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		specs []interfaces.RuntimeParameter
	}{
		{"missing name", []interfaces.RuntimeParameter{{Type: interfaces.ParameterStatic, Value: "x"}}},
		{"duplicate", []interfaces.RuntimeParameter{
			{Name: "A", Type: interfaces.ParameterStatic, Value: "1"},
			{Name: "A", Type: interfaces.ParameterStatic, Value: "2"},
		}},
		{"secret without provider", []interfaces.RuntimeParameter{{Name: "S", Type: interfaces.ParameterSecret}}},
		{"unknown type", []interfaces.RuntimeParameter{{Name: "U", Type: "env"}}},
		{"bad ipcalc", []interfaces.RuntimeParameter{{Name: "I", Type: interfaces.ParameterStatic, Value: "10.0.0.1/24", IPCalc: "median"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveParameters(context.Background(), testLogger(), tt.specs, &fakeLoader{}, noWait(1))
			assert.Error(t, err)
		})
	}
}

func TestQuery(t *testing.T) {
	result, err := Query("tags.env", `{"tags": {"env": "prod"}}`)
	require.NoError(t, err)
	assert.Equal(t, "prod", result)

	_, err = Query("tags.missing", map[string]any{"tags": map[string]any{}})
	assert.Error(t, err)

	_, err = Query("a", "not json")
	assert.Error(t, err)
}
