package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
)

// DefaultTimeout bounds a single request, independently of any retry policy.
const DefaultTimeout = 30 * time.Second

// Options tune a single Load or DownloadToFile call.
type Options struct {
	// SkipTLSVerify disables certificate verification (verifyTls: false).
	SkipTLSVerify bool
	// Headers are added to HTTP requests.
	Headers map[string]string
	// Timeout overrides the resolver's per-request timeout.
	Timeout time.Duration
	// Raw returns the content as []byte without parsing.
	Raw bool

	// ParameterType selects GetSecret or GetMetadata for cloud locations.
	ParameterType interfaces.ParameterType
	Secret        *interfaces.SecretProvider
	Metadata      *interfaces.MetadataProvider
}

// HTTPResponse is the result of loading an http(s) location.
// Body holds decoded JSON when the response declares a JSON content type,
// otherwise the body text.
type HTTPResponse struct {
	Code int
	Body any
}

// Resolver fetches and parses content by location URI regardless of source.
type Resolver struct {
	log             *slog.Logger
	cloud           interfaces.CloudClient
	timeout         time.Duration
	downloadRetries int
}

// NewResolver creates a resolver. cloud may be nil when no cloud locations are used.
func NewResolver(log *slog.Logger, cloud interfaces.CloudClient) *Resolver {
	return &Resolver{
		log:             log,
		cloud:           cloud,
		timeout:         DefaultTimeout,
		downloadRetries: 3,
	}
}

// WithTimeout sets the per-request timeout.
func (r *Resolver) WithTimeout(timeout time.Duration) *Resolver {
	r.timeout = timeout
	return r
}

// WithDownloadRetries sets how many times the HTTP transport retries a download.
func (r *Resolver) WithDownloadRetries(n int) *Resolver {
	r.downloadRetries = n
	return r
}

func (r *Resolver) requestTimeout(opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return r.timeout
}

// Load fetches the content at uri.
//
// Supported schemes:
//   - file://     local file, parsed as a number, JSON, or text
//   - http(s)://  GET request, returns *HTTPResponse
//   - s3://       bucket/key?region=...&endpoint=...
//   - ipfs://     host:port/ipfs/<cid>
//   - dns://      [server]/name?type=TXT|A|AAAA|CNAME
//   - aws://, gcp://, azure://, hashicorp://  dispatched to the cloud client
//
// Any other scheme fails with interfaces.ErrUnknownLocationType.
func (r *Resolver) Load(ctx context.Context, uri string, opts Options) (any, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", uri, err)
	}

	r.log.Debug("Loading location", slog.String("scheme", u.Scheme), slog.String("host", u.Host))

	switch strings.ToLower(u.Scheme) {
	case "file":
		data, err := loadFile(u)
		if err != nil {
			return nil, err
		}
		if opts.Raw {
			return data, nil
		}
		return ParseContent(data), nil
	case "http", "https":
		return r.loadHTTP(ctx, u, opts)
	case "s3":
		data, err := r.loadS3(ctx, u)
		if err != nil {
			return nil, err
		}
		if opts.Raw {
			return data, nil
		}
		return ParseContent(data), nil
	case "ipfs":
		data, err := r.loadIPFS(ctx, u, opts)
		if err != nil {
			return nil, err
		}
		if opts.Raw {
			return data, nil
		}
		return ParseContent(data), nil
	case "dns":
		return r.loadDNS(ctx, u, opts)
	case "aws", "gcp", "azure", "hashicorp":
		return r.loadCloud(ctx, u, opts)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownLocationType, u.Scheme)
	}
}

// LoadBytes loads uri and returns the raw content. HTTP responses with a
// non-2xx status are returned as *interfaces.ApplicationError.
func (r *Resolver) LoadBytes(ctx context.Context, uri string, opts Options) ([]byte, error) {
	opts.Raw = true
	content, err := r.Load(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	switch v := content.(type) {
	case []byte:
		return v, nil
	case *HTTPResponse:
		body, _ := v.Body.([]byte)
		if v.Code < 200 || v.Code > 299 {
			return nil, &interfaces.ApplicationError{Method: "GET", URL: uri, Status: v.Code, Body: string(body)}
		}
		return body, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unexpected content type %T for %s", content, uri)
	}
}

// ParseContent interprets fetched bytes. A single numeric token becomes an
// int64 or float64, any other single token is returned trimmed, JSON objects
// and arrays are decoded, and everything else is returned as text.
func ParseContent(data []byte) any {
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" && !strings.ContainsAny(trimmed, " \t\r\n") {
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}

	if trimmed != "" && !strings.ContainsAny(trimmed, " \t\r\n") {
		return trimmed
	}
	return string(data)
}

// Stringify renders loaded content as a parameter value.
func Stringify(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case *HTTPResponse:
		return Stringify(v.Body)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("could not encode %T: %w", content, err)
		}
		return string(encoded), nil
	}
}
