package bigip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultChunkSize is the size of one upload request.
const DefaultChunkSize = 1 << 20

const (
	uploadPath         = "/mgmt/shared/file-transfer/uploads/"
	downloadDir        = "/var/config/rest/downloads/"
	packageTasksPath   = "/mgmt/shared/iapp/package-management-tasks"
	packageInstallOp   = "INSTALL"
	packageQueryOp     = "QUERY"
	packageUninstallOp = "UNINSTALL"
)

// Package is an installed extension package.
type Package struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Release     string `json:"release"`
	Arch        string `json:"arch"`
	PackageName string `json:"packageName"`
}

// UploadFile transfers a local file to the device in Content-Range chunks.
// It returns the path of the uploaded file on the device.
func (c *Client) UploadFile(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	if size == 0 {
		return "", fmt.Errorf("refusing to upload empty file %s", localPath)
	}

	name := filepath.Base(localPath)
	start := time.Now()
	buf := make([]byte, c.chunkSize)

	for offset := int64(0); offset < size; {
		n, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read %s: %w", localPath, err)
		}
		if n == 0 {
			break
		}

		headers := http.Header{}
		headers.Set("Content-Type", "application/octet-stream")
		headers.Set("Content-Range", fmt.Sprintf("%d-%d/%d", offset, offset+int64(n)-1, size))

		if _, err := c.do(ctx, "POST", uploadPath+name, buf[:n], headers); err != nil {
			return "", fmt.Errorf("upload of %s failed at offset %d: %w", name, offset, err)
		}
		offset += int64(n)
	}

	c.log.Info("Uploaded file to device",
		slog.String("file", name),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)))
	return downloadDir + name, nil
}

// InstallPackage installs an uploaded package and waits for the install task.
func (c *Client) InstallPackage(ctx context.Context, remotePath string) error {
	_, err := c.packageTask(ctx, map[string]string{
		"operation":       packageInstallOp,
		"packageFilePath": remotePath,
	})
	if err != nil {
		return fmt.Errorf("install of %s failed: %w", path.Base(remotePath), err)
	}
	c.log.Info("Installed package", slog.String("package", path.Base(remotePath)))
	return nil
}

// UninstallPackage removes an installed package by its package name.
func (c *Client) UninstallPackage(ctx context.Context, packageName string) error {
	_, err := c.packageTask(ctx, map[string]string{
		"operation":   packageUninstallOp,
		"packageName": packageName,
	})
	if err != nil {
		return fmt.Errorf("uninstall of %s failed: %w", packageName, err)
	}
	return nil
}

// InstalledPackages lists installed extension packages.
func (c *Client) InstalledPackages(ctx context.Context) ([]Package, error) {
	resp, err := c.packageTask(ctx, map[string]string{"operation": packageQueryOp})
	if err != nil {
		return nil, fmt.Errorf("package query failed: %w", err)
	}

	var result struct {
		QueryResponse []Package `json:"queryResponse"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	return result.QueryResponse, nil
}

// FindPackage returns the installed package whose name starts with prefix.
func FindPackage(packages []Package, prefix string) (Package, bool) {
	for _, p := range packages {
		if strings.HasPrefix(p.Name, prefix) || strings.HasPrefix(p.PackageName, prefix) {
			return p, true
		}
	}
	return Package{}, false
}

func (c *Client) packageTask(ctx context.Context, body map[string]string) (*Response, error) {
	resp, err := c.Request(ctx, "POST", packageTasksPath, body)
	if err != nil {
		return nil, err
	}

	var task struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, errors.New("package task response has no id")
	}
	return c.WaitForTask(ctx, packageTasksPath+"/"+task.ID)
}
