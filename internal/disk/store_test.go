package disk

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/imagecache/internal/cacheerr"
)

func createTestStore(t *testing.T) (*Store, core.FS) {
	t.Helper()
	fsys := billy.NewMemory()
	store, err := New(fsys, "/cache")
	require.NoError(t, err)
	return store, fsys
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		fs      core.FS
		root    string
		wantErr bool
	}{
		{name: "valid", fs: billy.NewMemory(), root: "/cache"},
		{name: "nil filesystem", fs: nil, root: "/cache", wantErr: true},
		{name: "empty root", fs: billy.NewMemory(), root: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.fs, tt.root)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.root, store.Root())
		})
	}
}

func TestStore_Location(t *testing.T) {
	store, _ := createTestStore(t)

	tests := []struct {
		key      string
		expected string
	}{
		{key: "ad-42", expected: "/cache/ad-42.cache"},
		{key: "a/b", expected: "/cache/a%2Fb.cache"},
		{key: "a%2Fb", expected: "/cache/a%252Fb.cache"},
		{key: "with space", expected: "/cache/with%20space.cache"},
		{key: "Ad-42", expected: "/cache/%41d-42.cache"},
		{key: "AD-42", expected: "/cache/%41%44-42.cache"},
		{key: "é", expected: "/cache/%C3%A9.cache"},
	}

	seen := map[string]string{}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := store.Location(tt.key)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.expected), got)

			again, err := store.Location(tt.key)
			require.NoError(t, err)
			assert.Equal(t, got, again)

			if other, ok := seen[got]; ok {
				t.Fatalf("keys %q and %q share location %s", other, tt.key, got)
			}
			seen[got] = tt.key
		})
	}

	invalid := []string{"..", "", strings.Repeat("é", 100), strings.Repeat("A", 100)}
	for _, key := range invalid {
		_, err := store.Location(key)
		assert.Equal(t, cacheerr.CodeInvalidLocator, errors.GetCode(err), key)
	}
}

func TestFileName_CaseInsensitiveDistinct(t *testing.T) {
	keys := []string{"ad-42", "Ad-42", "aD-42", "AD-42", "a%41", "%61"}

	for i, a := range keys {
		for _, b := range keys[i+1:] {
			assert.False(t, strings.EqualFold(FileName(a), FileName(b)),
				"%q and %q collide on a case-insensitive filesystem", a, b)
		}
	}
}

func TestStore_FileNameLimit(t *testing.T) {
	store, err := New(billy.NewLocal(), t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// 40 two-byte runes escape to 240 bytes, inside the limit.
	fits := strings.Repeat("é", 40)
	// 100 two-byte runes pass key validation but escape to 600 bytes.
	tooLong := strings.Repeat("é", 100)

	_, err = store.Retrieve(ctx, fits)
	assert.Equal(t, cacheerr.CodeDiskNotFound, errors.GetCode(err))
	assert.Equal(t, cacheerr.CodeDiskNotFound, errors.GetCode(store.Delete(ctx, fits)))

	_, err = store.Store(ctx, fits, []byte("image"))
	require.NoError(t, err)
	got, err := store.Retrieve(ctx, fits)
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), got)

	_, err = store.Store(ctx, tooLong, []byte("image"))
	assert.Equal(t, cacheerr.CodeInvalidLocator, errors.GetCode(err))
	_, err = store.Retrieve(ctx, tooLong)
	assert.Equal(t, cacheerr.CodeInvalidLocator, errors.GetCode(err))
	assert.Equal(t, cacheerr.CodeInvalidLocator, errors.GetCode(store.Delete(ctx, tooLong)))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{fits}, keys)
}

func TestStore_RoundTrip(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		data []byte
	}{
		{name: "small", key: "ad-1", data: []byte("jpeg bytes")},
		{name: "empty payload", key: "ad-2", data: []byte{}},
		{name: "binary with newlines", key: "ad-3", data: []byte{0xff, 0xd8, '\n', 0x00, '\n', 0xd9}},
		{name: "large", key: "ad-4", data: bytes.Repeat([]byte("x"), 1<<20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := store.Store(ctx, tt.key, tt.data)
			require.NoError(t, err)
			assert.Contains(t, location, Suffix)

			got, err := store.Retrieve(ctx, tt.key)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	first, err := store.Store(ctx, "ad-42", []byte("first"))
	require.NoError(t, err)
	second, err := store.Store(ctx, "ad-42", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := store.Retrieve(ctx, "ad-42")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ad-42"}, keys)
}

func TestStore_RetrieveMissing(t *testing.T) {
	store, _ := createTestStore(t)

	_, err := store.Retrieve(context.Background(), "never-stored")
	require.Error(t, err)
	assert.Equal(t, cacheerr.CodeDiskNotFound, errors.GetCode(err))
}

func TestStore_Delete(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, "ad-42", []byte("image"))
	require.NoError(t, err)

	exists, err := store.Exists(ctx, "ad-42")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "ad-42"))

	_, err = store.Retrieve(ctx, "ad-42")
	assert.Equal(t, cacheerr.CodeDiskNotFound, errors.GetCode(err))

	exists, err = store.Exists(ctx, "ad-42")
	require.NoError(t, err)
	assert.False(t, exists)

	err = store.Delete(ctx, "ad-42")
	assert.Equal(t, cacheerr.CodeDiskNotFound, errors.GetCode(err))
}

func TestStore_CorruptionDetection(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "no header", raw: []byte("garbage")},
		{name: "bad digest", raw: []byte("sha256:nothex\ndata")},
		{name: "digest mismatch", raw: []byte(digest.FromString("original").String() + "\ntampered")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, fsys := createTestStore(t)
			location, err := store.Location("ad-42")
			require.NoError(t, err)
			require.NoError(t, fsys.WriteFile(location, tt.raw, 0o644))

			_, err = store.Retrieve(context.Background(), "ad-42")
			require.Error(t, err)
			assert.Equal(t, cacheerr.CodeDecodeFailure, errors.GetCode(err))
		})
	}
}

func TestStore_List(t *testing.T) {
	store, fsys := createTestStore(t)
	ctx := context.Background()

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	keys := []string{"ad-1", "Ad-1", "2024/ad-3"}
	var want int64
	for _, key := range keys {
		_, err := store.Store(ctx, key, []byte(key))
		require.NoError(t, err)
		want += int64(len(encode([]byte(key))))
	}
	require.NoError(t, fsys.WriteFile("/cache/unrelated.txt", []byte("x"), 0o644))

	listed, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, listed)

	size, err = store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, size)
}

func TestStore_CleanupTempFiles(t *testing.T) {
	store, fsys := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, fsys.WriteFile(fmt.Sprintf("/cache/.temp/stale-%d.tmp", i), []byte("partial"), 0o644))
	}

	removed, err := store.CleanupTempFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	entries, err := fsys.ReadDir("/cache/.temp")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CancelledContext(t *testing.T) {
	store, _ := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Store(ctx, "ad-1", []byte("x"))
	assert.Equal(t, cacheerr.CodeCancelled, errors.GetCode(err))

	_, err = store.Retrieve(ctx, "ad-1")
	assert.Equal(t, cacheerr.CodeCancelled, errors.GetCode(err))

	err = store.Delete(ctx, "ad-1")
	assert.Equal(t, cacheerr.CodeCancelled, errors.GetCode(err))
}

func TestStore_LockStripes(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10*lockStripes; i++ {
		key := fmt.Sprintf("ad-%d", i)
		_, err := store.Store(ctx, key, []byte(key))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, key))
	}

	assert.Same(t, store.keyLock("ad-42"), store.keyLock("ad-42"))
	stripes := map[*sync.RWMutex]bool{}
	for i := 0; i < 10*lockStripes; i++ {
		stripes[store.keyLock(fmt.Sprintf("ad-%d", i))] = true
	}
	assert.LessOrEqual(t, len(stripes), lockStripes)
}

func TestStore_ConcurrentSameKey(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	payloads := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie")}
	_, err := store.Store(ctx, "ad-42", payloads[0])
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Store(ctx, "ad-42", payloads[i%len(payloads)]); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			got, err := store.Retrieve(ctx, "ad-42")
			if err != nil {
				errs <- err
				return
			}
			for _, p := range payloads {
				if bytes.Equal(p, got) {
					return
				}
			}
			errs <- fmt.Errorf("torn read: %q", got)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
