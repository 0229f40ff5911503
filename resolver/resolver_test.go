package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCloud struct {
	mock.Mock
}

func (m *mockCloud) GetSecret(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *mockCloud) GetMetadata(ctx context.Context, spec interfaces.MetadataProvider) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func testResolver(cloud interfaces.CloudClient) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(logger, cloud).WithDownloadRetries(0)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_File(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected any
	}{
		{"numeric token", "12345", int64(12345)},
		{"numeric token with newline", "12345\n", int64(12345)},
		{"float token", "1.5", 1.5},
		{"text token", "s3cr3t\n", "s3cr3t"},
		{"json object", `{"a": 1, "b": ["x"]}`, map[string]any{"a": float64(1), "b": []any{"x"}}},
		{"plain text", "hello world\n", "hello world\n"},
	}

	r := testResolver(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "value", tt.content)
			content, err := r.Load(context.Background(), "file://"+path, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, content)
		})
	}
}

func TestLoad_FileNumericIgnoresOptions(t *testing.T) {
	path := writeFile(t, "value", "12345")
	r := testResolver(nil)

	content, err := r.Load(context.Background(), "file://"+path, Options{SkipTLSVerify: true, Headers: map[string]string{"X": "y"}})
	require.NoError(t, err)
	assert.Equal(t, int64(12345), content)
}

func TestLoad_FileMissing(t *testing.T) {
	r := testResolver(nil)
	_, err := r.Load(context.Background(), "file:///does/not/exist", Options{})
	assert.Error(t, err)
}

func TestLoad_HTTPJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"hostname":"bigip1.example.com"}`))
	}))
	defer server.Close()

	r := testResolver(nil)
	content, err := r.Load(context.Background(), server.URL+"/meta", Options{Headers: map[string]string{"X-Auth": "token"}})
	require.NoError(t, err)

	resp, ok := content.(*HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, map[string]any{"hostname": "bigip1.example.com"}, resp.Body)
}

func TestLoad_HTTPText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer server.Close()

	r := testResolver(nil)
	content, err := r.Load(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, &HTTPResponse{Code: 404, Body: "missing"}, content)

	_, err = r.LoadBytes(context.Background(), server.URL, Options{})
	assert.ErrorIs(t, err, interfaces.ErrApplication)
}

func TestLoad_HTTPSSkipVerify(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	r := testResolver(nil)
	_, err := r.Load(context.Background(), server.URL, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransport)

	content, err := r.Load(context.Background(), server.URL, Options{SkipTLSVerify: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", content.(*HTTPResponse).Body)
}

func TestLoad_HTTPConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	r := testResolver(nil)
	_, err := r.Load(context.Background(), addr, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLoad_UnknownScheme(t *testing.T) {
	r := testResolver(nil)
	_, err := r.Load(context.Background(), "sbn://some/where", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnknownLocationType)
	assert.Contains(t, err.Error(), "unknown location type")
	assert.Contains(t, err.Error(), "sbn")
}

func TestLoad_CloudDispatch(t *testing.T) {
	cloud := new(mockCloud)
	secret := interfaces.SecretProvider{Environment: "aws", SecretID: "admin"}
	meta := interfaces.MetadataProvider{Environment: "aws", Type: "compute", Field: "hostname"}
	cloud.On("GetSecret", mock.Anything, secret).Return("p@ss", nil)
	cloud.On("GetMetadata", mock.Anything, meta).Return("bigip1", nil)

	r := testResolver(cloud)

	content, err := r.Load(context.Background(), "aws://secret/admin", Options{ParameterType: interfaces.ParameterSecret, Secret: &secret})
	require.NoError(t, err)
	assert.Equal(t, "p@ss", content)

	content, err = r.Load(context.Background(), "aws://metadata/compute/hostname", Options{ParameterType: interfaces.ParameterMetadata, Metadata: &meta})
	require.NoError(t, err)
	assert.Equal(t, "bigip1", content)

	_, err = r.Load(context.Background(), "aws://secret/admin", Options{ParameterType: interfaces.ParameterURL})
	assert.Error(t, err)

	cloud.AssertExpectations(t)
}

func TestLoad_CloudWithoutClient(t *testing.T) {
	r := testResolver(nil)
	_, err := r.Load(context.Background(), "gcp://secret/x", Options{ParameterType: interfaces.ParameterSecret, Secret: &interfaces.SecretProvider{}})
	assert.Error(t, err)
}

func TestLoad_DNS(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Answer = append(m.Answer,
			&dns.TXT{Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60}, Txt: []string{"region=", "eu-west-1"}},
			&dns.TXT{Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60}, Txt: []string{"second"}},
		)
		w.WriteMsg(m)
	})}
	go srv.ActivateAndServe()
	defer srv.Shutdown()

	r := testResolver(nil)
	uri := fmt.Sprintf("dns://%s/bootstrap.example.com?type=TXT", pc.LocalAddr().String())

	content, err := r.Load(context.Background(), uri, Options{})
	require.NoError(t, err)
	assert.Equal(t, "region=eu-west-1", content)

	content, err = r.Load(context.Background(), uri+"&all=true", Options{})
	require.NoError(t, err)
	assert.Equal(t, "region=eu-west-1,second", content)
}

func TestLoad_S3PathStyle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artifacts/declarations/as3.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"class":"AS3"}`))
	}))
	defer server.Close()

	r := testResolver(nil)
	uri := "s3://artifacts/declarations/as3.json?anonymous=true&endpoint=" + server.URL
	content, err := r.Load(context.Background(), uri, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"class": "AS3"}, content)
}

func TestIPFSTarget(t *testing.T) {
	tests := []struct {
		uri     string
		api     string
		path    string
		wantErr bool
	}{
		{"ipfs://127.0.0.1:5001/ipfs/QmHash", "127.0.0.1:5001", "/ipfs/QmHash", false},
		{"ipfs://node.local/QmHash/file.json", "node.local:5001", "/ipfs/QmHash/file.json", false},
		{"ipfs://node.local/", "", "", true},
	}
	for _, tt := range tests {
		u, err := parseURL(tt.uri)
		require.NoError(t, err)
		api, path, err := ipfsTarget(u)
		if tt.wantErr {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.api, api)
		assert.Equal(t, tt.path, path)
	}
}

func TestStringify(t *testing.T) {
	for _, tt := range []struct {
		in   any
		want string
	}{
		{int64(8443), "8443"},
		{1.25, "1.25"},
		{"x", "x"},
		{map[string]any{"a": "b"}, `{"a":"b"}`},
		{&HTTPResponse{Code: 200, Body: "body"}, "body"},
	} {
		got, err := Stringify(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
