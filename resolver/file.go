package resolver

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// filePath extracts the filesystem path of a file:// location.
// Both file:///abs/path and file://./relative/path are accepted.
func filePath(u *url.URL) (string, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return "", fmt.Errorf("empty path in file URI: %s", u.String())
	}
	return path, nil
}

func loadFile(u *url.URL) ([]byte, error) {
	path, err := filePath(u)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
