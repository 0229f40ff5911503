package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}

func TestDownloadToFile_HTTP(t *testing.T) {
	payload := []byte("rpm-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "dir", "f5-appsvcs.rpm")
	r := testResolver(nil)

	require.NoError(t, r.DownloadToFile(context.Background(), server.URL+"/f5-appsvcs.rpm", dest, Options{}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadToFile_HTTPErrorLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.rpm")
	r := testResolver(nil)

	err := r.DownloadToFile(context.Background(), server.URL, dest, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrApplication)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadToFile_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	dest := filepath.Join(t.TempDir(), "pkg.rpm")
	r := testResolver(nil)

	err := r.DownloadToFile(context.Background(), addr, dest, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoFileExists(t, dest)
}

func TestDownloadToFile_LocalFile(t *testing.T) {
	src := writeFile(t, "script.sh", "#!/bin/sh\necho hi\n")
	dest := filepath.Join(t.TempDir(), "script.sh")
	r := testResolver(nil)

	require.NoError(t, r.DownloadToFile(context.Background(), "file://"+src, dest, Options{}))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))
}

func TestDownloadToFile_KeepsExistingDirPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	require.NoError(t, os.Mkdir(dir, 0700))
	src := writeFile(t, "a", "a")

	r := testResolver(nil)
	require.NoError(t, r.DownloadToFile(context.Background(), "file://"+src, filepath.Join(dir, "a"), Options{}))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestDownloadToFile_UnknownScheme(t *testing.T) {
	r := testResolver(nil)
	err := r.DownloadToFile(context.Background(), "ftp://host/file", filepath.Join(t.TempDir(), "f"), Options{})
	assert.ErrorIs(t, err, interfaces.ErrUnknownLocationType)
}

func TestDownloadToFile_HungServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	r := testResolver(nil).WithTimeout(200 * time.Millisecond)

	start := time.Now()
	err := r.DownloadToFile(context.Background(), server.URL+"/pkg.rpm", filepath.Join(dir, "pkg.rpm"), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
	assert.Less(t, time.Since(start), 2*time.Second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadToFile_StalledBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	r := testResolver(nil).WithTimeout(200 * time.Millisecond)

	start := time.Now()
	err := r.DownloadToFile(context.Background(), server.URL+"/pkg.rpm", filepath.Join(dir, "pkg.rpm"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data received")
	assert.Less(t, time.Since(start), 2*time.Second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
