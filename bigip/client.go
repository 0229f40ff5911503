package bigip

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
	"github.com/ruteri/runtime-init/retry"
)

// DefaultPort is the local management API port.
const DefaultPort = 8100

// State holds the connection settings of one management client.
type State struct {
	Host      string
	Port      int
	Scheme    string
	User      string
	Password  string
	VerifyTLS bool
	// RootCAs, when set, replaces the system roots for certificate verification.
	RootCAs *x509.CertPool
	// Timeout bounds each request independently of any retry policy.
	Timeout time.Duration

	ReadyPolicy retry.Policy
	// TaskPolicy bounds polling of asynchronous tasks and endpoints.
	TaskPolicy retry.Policy
}

// DefaultState returns settings for the local management API.
func DefaultState() State {
	return State{
		Host:        "localhost",
		Port:        DefaultPort,
		Scheme:      "http",
		User:        "admin",
		VerifyTLS:   true,
		Timeout:     60 * time.Second,
		ReadyPolicy: retry.FromConfig(interfaces.DefaultReadyPolicy),
		TaskPolicy:  retry.Policy{MaxRetries: 120, Interval: 5 * time.Second},
	}
}

// Client talks to one device. It is safe for sequential use by one run.
type Client struct {
	log        *slog.Logger
	state      State
	baseURL    string
	httpClient *http.Client
	chunkSize  int64
}

// Response is a successful management API answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// NewClient creates a client. Zero Port, Scheme and Timeout take their defaults.
func NewClient(log *slog.Logger, state State) *Client {
	def := DefaultState()
	if state.Port == 0 {
		state.Port = def.Port
	}
	if state.Scheme == "" {
		state.Scheme = def.Scheme
	}
	if state.Host == "" {
		state.Host = def.Host
	}
	if state.Timeout <= 0 {
		state.Timeout = def.Timeout
	}

	httpClient := resolver.NewHTTPClient(state.Timeout, !state.VerifyTLS)
	if state.VerifyTLS && state.RootCAs != nil {
		transport := httpClient.Transport.(*http.Transport)
		transport.TLSClientConfig = &tls.Config{RootCAs: state.RootCAs, MinVersion: tls.VersionTLS12}
	}

	return &Client{
		log:        log,
		state:      state,
		baseURL:    fmt.Sprintf("%s://%s", state.Scheme, net.JoinHostPort(state.Host, strconv.Itoa(state.Port))),
		httpClient: httpClient,
		chunkSize:  DefaultChunkSize,
	}
}

// BaseURL returns the scheme, host and port requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request sends an authenticated request to path. body may be nil, []byte,
// string, or any value encoded as JSON.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if payload != nil {
		headers.Set("Content-Type", "application/json")
	}
	return c.do(ctx, method, path, payload, headers)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, headers http.Header) (*Response, error) {
	url := c.baseURL + "/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.state.User != "" {
		req.SetBasicAuth(c.state.User, c.state.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &interfaces.TransportError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &interfaces.TransportError{Op: method, URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.log.Debug("Management API request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("code", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &interfaces.ApplicationError{Method: method, URL: url, Status: resp.StatusCode, Body: string(data)}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		return data, nil
	}
}
