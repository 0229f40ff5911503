package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// ipfsTarget splits ipfs://host:port/ipfs/<cid>[/path] into the API address and
// the content path passed to "cat". The port defaults to the IPFS API port.
func ipfsTarget(u *url.URL) (apiAddr, contentPath string, err error) {
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("invalid IPFS URI, expected ipfs://host:port/ipfs/<cid>: %s", u.String())
	}
	port := u.Port()
	if port == "" {
		port = "5001"
	}

	contentPath = strings.TrimPrefix(u.Path, "/")
	if contentPath == "" {
		return "", "", fmt.Errorf("missing content path in IPFS URI: %s", u.String())
	}
	if !strings.HasPrefix(contentPath, "ipfs/") && !strings.HasPrefix(contentPath, "ipns/") {
		contentPath = "ipfs/" + contentPath
	}
	return host + ":" + port, "/" + contentPath, nil
}

func (r *Resolver) loadIPFS(ctx context.Context, u *url.URL, opts Options) ([]byte, error) {
	apiAddr, contentPath, err := ipfsTarget(u)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sh := shell.NewShellWithClient(apiAddr, NewHTTPClient(r.requestTimeout(opts), opts.SkipTLSVerify))

	resp, err := sh.Request("cat", contentPath).Send(ctx)
	if err == nil && resp.Error != nil {
		resp.Close()
		err = resp.Error
	}
	if err != nil {
		r.log.Error("Failed to fetch data from IPFS",
			slog.String("path", contentPath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	r.log.Debug("Fetched content from IPFS",
		slog.String("path", contentPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}
