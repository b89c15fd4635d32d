// Package assets stores synthesized correction clips under random,
// filesystem-safe identifiers.
//
// Clips live in a gocloud.dev/blob bucket under the key "<id>.<format>". A
// local directory (fileblob) is the default backing; any other bucket URL
// registered with gocloud (mem://, s3://, gs://, ...) may be used instead.
// The Store additionally keeps an in-memory index of the clips it created so
// that lookups avoid a bucket listing. The index is a cache: clearing it never
// makes a stored clip unreachable.
//
// A Store is safe for concurrent use. Only identifier reservation is
// serialized; reads and writes run in parallel.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	// Registers mem:// for OpenURL.
	_ "gocloud.dev/blob/memblob"
)

// DefaultDir is the directory used when no bucket URL is configured.
const DefaultDir = "./assets/audio_changes"

const maxReserveAttempts = 8

var (
	// ErrNotFound reports an unknown or malformed asset identifier.
	ErrNotFound = errors.New("assets: not found")

	// ErrCorrupt reports an asset whose stored object is empty.
	ErrCorrupt = errors.New("assets: corrupt")

	// ErrStorage reports a failure of the backing bucket.
	ErrStorage = errors.New("assets: storage failure")
)

var (
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	formatPattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)
)

// Asset describes a stored clip.
type Asset struct {
	ID        string
	Size      int64
	Format    string
	CreatedAt time.Time
}

// key returns the bucket key of the asset.
func (a Asset) key() string { return a.ID + "." + a.Format }

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithIDGenerator replaces the identifier source (uuid v4 by default).
// Generated identifiers must match [A-Za-z0-9_-]{1,128}.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store creates and serves audio assets.
type Store struct {
	open func(context.Context) (*blob.Bucket, error)

	bucketMu sync.Mutex
	bucket   *blob.Bucket

	mu       sync.Mutex
	reserved map[string]struct{}
	index    map[string]Asset

	newID func() string
	now   func() time.Time
}

func newStore(open func(context.Context) (*blob.Bucket, error), opts ...Option) *Store {
	s := &Store{
		open:     open,
		reserved: make(map[string]struct{}),
		index:    make(map[string]Asset),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFileStore returns a Store backed by the local directory dir. The
// directory is created on first use, not here.
func NewFileStore(dir string, opts ...Option) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return newStore(func(context.Context) (*blob.Bucket, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return fileblob.OpenBucket(dir, nil)
	}, opts...)
}

// NewBucketStore returns a Store backed by an already-open bucket. The Store
// takes ownership of b and closes it in [Store.Close].
func NewBucketStore(b *blob.Bucket, opts ...Option) *Store {
	return newStore(func(context.Context) (*blob.Bucket, error) { return b, nil }, opts...)
}

// OpenURL returns a Store for bucketURL. An empty URL or a file:// URL selects
// a lazily created local directory; anything else is opened through gocloud's
// URL mux on first use.
func OpenURL(bucketURL string, opts ...Option) (*Store, error) {
	if bucketURL == "" {
		return NewFileStore(DefaultDir, opts...), nil
	}
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("assets: parse bucket url: %w", err)
	}
	if u.Scheme == "" || u.Scheme == "file" {
		dir := u.Path
		if u.Scheme == "" {
			dir = bucketURL
		} else if u.Host != "" {
			// file://./relative/dir
			dir = u.Host + u.Path
		}
		return NewFileStore(dir, opts...), nil
	}
	return newStore(func(ctx context.Context) (*blob.Bucket, error) {
		return blob.OpenBucket(ctx, bucketURL)
	}, opts...), nil
}

// bucketFor opens the backing bucket once. A failed open is retried on the
// next call.
func (s *Store) bucketFor(ctx context.Context) (*blob.Bucket, error) {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucket != nil {
		return s.bucket, nil
	}
	b, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open bucket: %w", ErrStorage, err)
	}
	s.bucket = b
	return b, nil
}

// Close releases the backing bucket, if it was opened.
func (s *Store) Close() error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucket == nil {
		return nil
	}
	err := s.bucket.Close()
	s.bucket = nil
	return err
}

// Ping reports whether the backing bucket can be opened and reached.
func (s *Store) Ping(ctx context.Context) error {
	b, err := s.bucketFor(ctx)
	if err != nil {
		return err
	}
	ok, err := b.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStorage, err)
	}
	if !ok {
		return fmt.Errorf("%w: bucket not accessible", ErrStorage)
	}
	return nil
}

// Create streams r into a new asset of the given format (e.g., "mp3") and
// returns its identifier. Existing assets are never overwritten. On failure
// no partial object is left behind.
func (s *Store) Create(ctx context.Context, r io.Reader, format string) (string, error) {
	if !formatPattern.MatchString(format) {
		return "", fmt.Errorf("%w: create: invalid format %q", ErrStorage, format)
	}
	b, err := s.bucketFor(ctx)
	if err != nil {
		return "", err
	}

	id, err := s.reserve(ctx, b)
	if err != nil {
		return "", err
	}

	a := Asset{ID: id, Format: format}
	n, err := s.write(ctx, b, a.key(), r, format)
	if err != nil {
		s.release(id)
		return "", fmt.Errorf("%w: create %s: %w", ErrStorage, id, err)
	}

	a.Size = n
	a.CreatedAt = s.now()
	s.mu.Lock()
	s.index[id] = a
	s.mu.Unlock()
	return id, nil
}

// write copies r into key, aborting the write (and removing any partial
// object) on error.
func (s *Store) write(ctx context.Context, b *blob.Bucket, key string, r io.Reader, format string) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := b.NewWriter(wctx, key, &blob.WriterOptions{ContentType: ContentType(format)})
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(w, r)
	if copyErr != nil {
		// Cancelling before Close aborts the upload.
		cancel()
	}
	closeErr := w.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if delErr := b.Delete(ctx, key); delErr != nil && gcerrors.Code(delErr) != gcerrors.NotFound {
			err = errors.Join(err, delErr)
		}
		return 0, err
	}
	return n, nil
}

// reserve picks a fresh identifier that is neither reserved in memory nor
// present in the bucket.
func (s *Store) reserve(ctx context.Context, b *blob.Bucket) (string, error) {
	for range maxReserveAttempts {
		id := s.newID()
		if !idPattern.MatchString(id) {
			return "", fmt.Errorf("%w: generated invalid id %q", ErrStorage, id)
		}

		s.mu.Lock()
		_, taken := s.reserved[id]
		if !taken {
			s.reserved[id] = struct{}{}
		}
		s.mu.Unlock()
		if taken {
			continue
		}

		_, found, err := findInBucket(ctx, b, id)
		if err != nil {
			s.release(id)
			return "", fmt.Errorf("%w: reserve: %w", ErrStorage, err)
		}
		if found {
			s.release(id)
			continue
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: no free identifier after %d attempts", ErrStorage, maxReserveAttempts)
}

func (s *Store) release(id string) {
	s.mu.Lock()
	delete(s.reserved, id)
	s.mu.Unlock()
}

// Retrieve returns the full contents of the asset.
func (s *Store) Retrieve(ctx context.Context, id string) ([]byte, Asset, error) {
	rc, a, err := s.Open(ctx, id)
	if err != nil {
		return nil, Asset{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, Asset{}, fmt.Errorf("%w: read %s: %w", ErrStorage, id, err)
	}
	return data, a, nil
}

// Open returns a reader over the asset. The caller must close it.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, Asset, error) {
	a, err := s.stat(ctx, id)
	if err != nil {
		return nil, Asset{}, err
	}
	b, err := s.bucketFor(ctx)
	if err != nil {
		return nil, Asset{}, err
	}
	r, err := b.NewReader(ctx, a.key(), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, Asset{}, fmt.Errorf("%w: open %s: %w", ErrStorage, id, err)
	}
	if r.Size() == 0 {
		r.Close()
		return nil, Asset{}, fmt.Errorf("%w: %s is empty", ErrCorrupt, id)
	}
	a.Size = r.Size()
	return r, a, nil
}

// Exists reports whether id names a stored asset.
func (s *Store) Exists(ctx context.Context, id string) bool {
	_, err := s.stat(ctx, id)
	return err == nil
}

// Size returns the byte length of the asset.
func (s *Store) Size(ctx context.Context, id string) (int64, error) {
	a, err := s.stat(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.Size, nil
}

// Clear drops the in-memory bookkeeping. Stored objects are untouched and stay
// retrievable through bucket lookup.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved = make(map[string]struct{})
	s.index = make(map[string]Asset)
}

// stat resolves id through the index, falling back to a bucket listing.
func (s *Store) stat(ctx context.Context, id string) (Asset, error) {
	if !idPattern.MatchString(id) {
		return Asset{}, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}

	s.mu.Lock()
	a, ok := s.index[id]
	s.mu.Unlock()
	if ok {
		return a, nil
	}

	b, err := s.bucketFor(ctx)
	if err != nil {
		return Asset{}, err
	}
	a, found, err := findInBucket(ctx, b, id)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: lookup %s: %w", ErrStorage, id, err)
	}
	if !found {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

// findInBucket returns the first object keyed "<id>.<format>".
func findInBucket(ctx context.Context, b *blob.Bucket, id string) (Asset, bool, error) {
	iter := b.List(&blob.ListOptions{Prefix: id + "."})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return Asset{}, false, nil
		}
		if err != nil {
			return Asset{}, false, err
		}
		format := strings.TrimPrefix(obj.Key, id+".")
		if obj.IsDir || !formatPattern.MatchString(format) {
			continue
		}
		return Asset{ID: id, Size: obj.Size, Format: format, CreatedAt: obj.ModTime}, true, nil
	}
}

// ContentType maps a format tag to its MIME type.
func ContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	case "webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
