package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/imagecache"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type recordingFetcher struct {
	mu       sync.Mutex
	locators []string
}

func (f *recordingFetcher) Fetch(_ context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locators = append(f.locators, locator)
	return pngBytes, nil
}

func (f *recordingFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locators...)
}

// run executes one CLI invocation. Invocations sharing fsys see the same
// saved images, as separate processes sharing a directory would.
func run(t *testing.T, fsys core.FS, fetcher imagecache.Fetcher, args ...string) (string, error) {
	t.Helper()

	root := newRoot()
	root.cacheOpts = []imagecache.Option{
		imagecache.WithFS(fsys),
		imagecache.WithFetcher(fetcher),
	}
	cmd := root.Command()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGet(t *testing.T) {
	fetcher := &recordingFetcher{}

	out, err := run(t, billy.NewMemory(), fetcher, "get", "https://images.example.com/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, string(pngBytes), out)
	assert.Equal(t, []string{"https://images.example.com/a.jpg"}, fetcher.calls())
}

func TestGet_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")

	out, err := run(t, billy.NewMemory(), &recordingFetcher{},
		"get", "--base-url", "https://images.example.com/dynamic/", "a.jpg", "-o", path)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestSavedImageLifecycle(t *testing.T) {
	fsys := billy.NewMemory()
	fetcher := &recordingFetcher{}

	out, err := run(t, fsys, fetcher, "--dir", "/saved", "save", "https://images.example.com/c.jpg", "ad-42")
	require.NoError(t, err)
	assert.Equal(t, "/saved/ad-42.cache\n", out)

	out, err = run(t, fsys, fetcher, "--dir", "/saved", "load", "ad-42")
	require.NoError(t, err)
	assert.Equal(t, string(pngBytes), out)
	assert.Len(t, fetcher.calls(), 1, "load must not touch the network")

	out, err = run(t, fsys, fetcher, "--dir", "/saved", "list")
	require.NoError(t, err)
	assert.Equal(t, "ad-42\n", out)

	out, err = run(t, fsys, fetcher, "--dir", "/saved", "list", "-l")
	require.NoError(t, err)
	assert.Contains(t, out, "image/png")

	out, err = run(t, fsys, fetcher, "--dir", "/saved", "stats")
	require.NoError(t, err)
	var stats struct {
		Saved     int              `json:"saved"`
		DiskBytes int64            `json:"disk_bytes"`
		Cache     imagecache.Stats `json:"cache"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Saved)
	assert.Greater(t, stats.DiskBytes, int64(len(pngBytes)))
	assert.Equal(t, "/saved", stats.Cache.Directory)

	_, err = run(t, fsys, fetcher, "--dir", "/saved", "delete", "ad-42")
	require.NoError(t, err)

	_, err = run(t, fsys, fetcher, "--dir", "/saved", "load", "ad-42")
	require.Error(t, err)
	assert.True(t, imagecache.IsKind(err, imagecache.CodeDiskNotFound))

	_, err = run(t, fsys, fetcher, "--dir", "/saved", "rm", "ad-42")
	assert.True(t, imagecache.IsKind(err, imagecache.CodeDiskNotFound))
}

func TestSave_FromInput(t *testing.T) {
	fsys := billy.NewMemory()
	fetcher := &recordingFetcher{}
	path := filepath.Join(t.TempDir(), "upload.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o644))

	_, err := run(t, fsys, fetcher, "save", "--input", path, "ad-7")
	require.NoError(t, err)

	out, err := run(t, fsys, fetcher, "load", "ad-7")
	require.NoError(t, err)
	assert.Equal(t, string(pngBytes), out)
	assert.Empty(t, fetcher.calls())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://cdn.example.com/480x360/\n"), 0o644))
	fetcher := &recordingFetcher{}

	_, err := run(t, billy.NewMemory(), fetcher, "--config", path, "get", "2024/ad.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/480x360/2024/ad.jpg"}, fetcher.calls())
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "get without locator", args: []string{"get"}},
		{name: "save with one argument", args: []string{"save", "ad-42"}},
		{name: "load with two arguments", args: []string{"load", "a", "b"}},
		{name: "delete without id", args: []string{"delete"}},
		{name: "list with argument", args: []string{"list", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &recordingFetcher{}
			_, err := run(t, billy.NewMemory(), fetcher, tt.args...)
			require.Error(t, err)
			assert.IsType(t, usageError{}, err)
			assert.Empty(t, fetcher.calls())
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	_, err := run(t, billy.NewMemory(), &recordingFetcher{}, "--log-level", "loud", "list")
	require.Error(t, err)
}
