// Package disk implements the durable tier of the image cache. Each local
// identifier maps to one file in an application-private directory; nothing
// is indexed in memory and nothing is evicted automatically.
package disk

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"

	"github.com/jmgilman/go/imagecache/internal/cacheerr"
	"github.com/jmgilman/go/imagecache/internal/validate"
)

// Suffix is appended to every escaped key to form its file name.
const Suffix = ".cache"

// MaxNameLength is the longest file name a record may have. Most
// filesystems refuse names above 255 bytes.
const MaxNameLength = 255

const (
	tempDirName = ".temp"
	lockStripes = 64
)

// Store maps local identifiers to byte blobs on a core.FS.
//
// Writes go to a temporary file first and are renamed into place, so a
// reader never observes a partially written record. Every record starts with
// a digest line that is verified on read. Operations on the same key are
// serialized through a fixed set of lock stripes.
type Store struct {
	fs      core.FS
	root    string
	tempDir string
	locks   [lockStripes]sync.RWMutex
}

// New creates a Store rooted at root on fsys, creating the directory tree
// when missing.
func New(fsys core.FS, root string) (*Store, error) {
	if fsys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "filesystem cannot be nil")
	}
	if root == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "root path cannot be empty")
	}

	tempDir := filepath.Join(root, tempDirName)
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, cacheerr.Wrap(err, cacheerr.CodeDiskWriteFailure, "failed to create cache directory")
	}

	return &Store{
		fs:      fsys,
		root:    root,
		tempDir: tempDir,
	}, nil
}

// Root returns the directory holding the records.
func (s *Store) Root() string {
	return s.root
}

// Location returns the deterministic path of the record for key. Keys whose
// file name would exceed MaxNameLength fail with INVALID_LOCATOR.
func (s *Store) Location(key string) (string, error) {
	if err := validate.ValidateKey(key); err != nil {
		return "", errors.WithContext(
			cacheerr.Wrap(err, cacheerr.CodeInvalidLocator, "invalid cache key"), "key", key)
	}

	name := FileName(key)
	if len(name) > MaxNameLength {
		return "", errors.WithContext(
			cacheerr.New(cacheerr.CodeInvalidLocator,
				fmt.Sprintf("file name for key is %d bytes, limit is %d", len(name), MaxNameLength)),
			"key", key)
	}
	return filepath.Join(s.root, name), nil
}

// FileName returns the record file name for key. The key is path escaped
// and upper case ASCII letters are escaped too, so keys differing only in
// case stay distinct on case-insensitive filesystems.
func FileName(key string) string {
	escaped := url.PathEscape(key)

	var b strings.Builder
	b.Grow(len(escaped) + len(Suffix))
	for i := 0; i < len(escaped); i++ {
		ch := escaped[i]
		switch {
		case ch == '%' && i+2 < len(escaped):
			// Existing escapes always use upper case hex; keep them as is.
			b.WriteString(escaped[i : i+3])
			i += 2
		case ch >= 'A' && ch <= 'Z':
			fmt.Fprintf(&b, "%%%02X", ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteString(Suffix)
	return b.String()
}

// Store writes data under key, replacing any previous record, and returns
// the record location.
func (s *Store) Store(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", cacheerr.FromContext(err, "store cancelled")
	}

	location, err := s.Location(key)
	if err != nil {
		return "", err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	tempFile := filepath.Join(s.tempDir, uuid.NewString()+".tmp")
	if err := s.fs.WriteFile(tempFile, encode(data), 0o644); err != nil {
		_ = s.fs.Remove(tempFile)
		return "", writeFailure(err, key, "failed to write temp file")
	}

	if err := s.fs.Rename(tempFile, location); err != nil {
		_ = s.fs.Remove(tempFile)
		return "", writeFailure(err, key, "failed to move record into place")
	}

	return location, nil
}

// Retrieve returns the bytes stored under key. A missing record fails with
// DISK_NOT_FOUND and a record whose digest does not match fails with
// DECODE_FAILURE.
func (s *Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, cacheerr.FromContext(err, "retrieve cancelled")
	}

	location, err := s.Location(key)
	if err != nil {
		return nil, err
	}

	lock := s.keyLock(key)
	lock.RLock()
	defer lock.RUnlock()

	raw, err := s.fs.ReadFile(location)
	if err != nil {
		if stderrors.Is(err, core.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeInternal, "failed to read record"), "key", key)
	}

	data, err := decode(raw)
	if err != nil {
		return nil, errors.WithContext(
			cacheerr.Wrap(err, cacheerr.CodeDecodeFailure, "record failed integrity check"), "key", key)
	}
	return data, nil
}

// Delete removes the record for key. Deleting a missing record fails with
// DISK_NOT_FOUND.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return cacheerr.FromContext(err, "delete cancelled")
	}

	location, err := s.Location(key)
	if err != nil {
		return err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.fs.Remove(location); err != nil {
		if stderrors.Is(err, core.ErrNotExist) {
			return notFound(key)
		}
		return errors.WithContext(
			errors.Wrap(err, errors.CodeInternal, "failed to remove record"), "key", key)
	}
	return nil
}

// Exists probes for the record of key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, cacheerr.FromContext(err, "exists cancelled")
	}

	location, err := s.Location(key)
	if err != nil {
		return false, err
	}

	lock := s.keyLock(key)
	lock.RLock()
	defer lock.RUnlock()

	exists, err := s.fs.Exists(location)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeInternal, "failed to check record existence")
	}
	return exists, nil
}

// List returns the keys of every stored record.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, cacheerr.FromContext(err, "list cancelled")
	}

	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		if stderrors.Is(err, core.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read cache directory")
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, Suffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, Suffix))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CleanupTempFiles removes temporary files left behind by interrupted
// writes and returns how many were removed.
func (s *Store) CleanupTempFiles(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, cacheerr.FromContext(err, "cleanup cancelled")
	}

	entries, err := s.fs.ReadDir(s.tempDir)
	if err != nil {
		if stderrors.Is(err, core.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to read temp directory")
	}

	removed := 0
	for _, entry := range entries {
		if err := s.fs.RemoveAll(filepath.Join(s.tempDir, entry.Name())); err != nil {
			return removed, errors.Wrapf(err, errors.CodeInternal, "failed to remove temp file %q", entry.Name())
		}
		removed++
	}
	return removed, nil
}

// Size returns the number of bytes occupied by stored records, headers
// included.
func (s *Store) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, cacheerr.FromContext(err, "size cancelled")
	}

	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		if stderrors.Is(err, core.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to calculate cache size")
	}

	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, errors.Wrap(err, errors.CodeInternal, "failed to calculate cache size")
		}
		total += info.Size()
	}
	return total, nil
}

// keyLock returns the lock stripe guarding key. Unrelated keys may share a
// stripe; the number of locks never grows with the number of keys.
func (s *Store) keyLock(key string) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// encode prefixes data with its digest on a line of its own.
func encode(data []byte) []byte {
	d := digest.FromBytes(data)
	buf := make([]byte, 0, len(d)+1+len(data))
	buf = append(buf, d.String()...)
	buf = append(buf, '\n')
	return append(buf, data...)
}

func decode(raw []byte) ([]byte, error) {
	header, data, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("missing digest header")
	}

	expected, err := digest.Parse(string(header))
	if err != nil {
		return nil, fmt.Errorf("invalid digest header: %w", err)
	}

	verifier := expected.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return nil, fmt.Errorf("failed to verify digest: %w", err)
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("digest mismatch: expected %s", expected)
	}
	return data, nil
}

func notFound(key string) error {
	return errors.WithContext(
		cacheerr.New(cacheerr.CodeDiskNotFound, "no record stored for key"), "key", key)
}

func writeFailure(err error, key, message string) error {
	return errors.WithContext(
		cacheerr.Wrap(err, cacheerr.CodeDiskWriteFailure, message), "key", key)
}
