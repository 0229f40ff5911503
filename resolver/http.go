package resolver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
)

// NewHTTPClient returns a client with the given timeout that optionally skips
// certificate verification.
func NewHTTPClient(timeout time.Duration, skipTLSVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- verifyTls: false
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewDownloadClient returns a client without an overall deadline, so bodies of
// any size can stream. Dialing, the TLS handshake and waiting for response
// headers are each bounded by timeout.
func NewDownloadClient(timeout time.Duration, skipTLSVerify bool) *http.Client {
	client := NewHTTPClient(0, skipTLSVerify)
	transport := client.Transport.(*http.Transport)
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return client
}

func (r *Resolver) loadHTTP(ctx context.Context, u *url.URL, opts Options) (any, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for name, value := range opts.Headers {
		req.Header.Set(name, value)
	}

	client := NewHTTPClient(r.requestTimeout(opts), opts.SkipTLSVerify)
	resp, err := client.Do(req)
	if err != nil {
		return nil, &interfaces.TransportError{Op: "GET", URL: redact(u), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &interfaces.TransportError{Op: "GET", URL: redact(u), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	r.log.Debug("Fetched content over HTTP",
		slog.String("url", redact(u)),
		slog.Int("code", resp.StatusCode),
		slog.Int("size", len(body)),
		slog.Duration("duration", time.Since(start)))

	if opts.Raw {
		return &HTTPResponse{Code: resp.StatusCode, Body: body}, nil
	}

	result := &HTTPResponse{Code: resp.StatusCode, Body: string(body)}
	if isJSON(resp.Header.Get("Content-Type")) && len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("invalid JSON from %s: %w", redact(u), err)
		}
		result.Body = decoded
	}
	return result, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// redact drops userinfo from a URL before it reaches logs or errors.
func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.User("***")
	return c.String()
}
