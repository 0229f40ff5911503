package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/runtime-init/interfaces"
	"go.uber.org/atomic"
)

// DownloadToFile streams the content at uri into dest without holding it in
// memory. Content is written to a temporary file next to dest and renamed into
// place only once fully written, so dest never names a partial download.
// The destination directory is created if absent.
func (r *Resolver) DownloadToFile(ctx context.Context, uri, dest string, opts Options) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid location %q: %w", uri, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := r.open(ctx, u, opts)
	if err != nil {
		return err
	}
	body = newStallReader(body, r.requestTimeout(opts), cancel)
	defer body.Close()

	start := time.Now()
	written, err := writeAtomically(dest, body)
	if err != nil {
		return fmt.Errorf("download of %s failed: %w", redact(u), err)
	}

	r.log.Info("Downloaded file",
		slog.String("url", redact(u)),
		slog.String("path", dest),
		slog.Int64("size", written),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (r *Resolver) open(ctx context.Context, u *url.URL, opts Options) (io.ReadCloser, error) {
	switch strings.ToLower(u.Scheme) {
	case "file":
		path, err := filePath(u)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		return f, nil
	case "http", "https":
		return r.openHTTP(ctx, u, opts)
	case "s3":
		return r.openS3(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownLocationType, u.Scheme)
	}
}

func (r *Resolver) openHTTP(ctx context.Context, u *url.URL, opts Options) (io.ReadCloser, error) {
	client := retryablehttp.NewClient()
	client.HTTPClient = NewDownloadClient(r.requestTimeout(opts), opts.SkipTLSVerify)
	client.RetryMax = r.downloadRetries
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = r.log
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for name, value := range opts.Headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &interfaces.TransportError{Op: "GET", URL: redact(u), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &interfaces.ApplicationError{Method: "GET", URL: redact(u), Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// stallReader aborts a download when no data arrives for timeout.
type stallReader struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	stalled *atomic.Bool
}

func newStallReader(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if timeout <= 0 {
		return body
	}
	s := &stallReader{body: body, timeout: timeout, stalled: atomic.NewBool(false)}
	s.timer = time.AfterFunc(timeout, func() {
		s.stalled.Store(true)
		cancel()
	})
	return s
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if n > 0 {
		s.timer.Reset(s.timeout)
	}
	if err != nil && err != io.EOF && s.stalled.Load() {
		err = fmt.Errorf("no data received for %s: %w", s.timeout, err)
	}
	return n, err
}

func (s *stallReader) Close() error {
	s.timer.Stop()
	return s.body.Close()
}

// writeAtomically copies src into a temporary sibling of dest, syncs it and
// renames it over dest. The temporary file is removed on any failure.
func writeAtomically(dest string, src io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, dest)
	}
	if err != nil {
		os.Remove(tmpName)
		return written, err
	}
	return written, nil
}
