package saver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"convert-web/internal/filesystem"
)

const objectScheme = "blob:"

// ErrUnknownObject is returned for URLs the ObjectStore did not create or
// has already revoked.
var ErrUnknownObject = errors.New("unknown object URL")

// ObjectStore is a LinkDeliverer over afero filesystems. CreateURL keeps the
// bytes in an object filesystem under a blob: URL; Click copies the object
// into the downloads filesystem under the requested name.
type ObjectStore struct {
	objects   afero.Fs
	downloads afero.Fs
	retry     filesystem.RetryConfig

	mu    sync.Mutex
	names map[string]string
	saved []string
}

// NewObjectStore keeps objects in memory and saves downloads to downloads.
func NewObjectStore(downloads afero.Fs) *ObjectStore {
	return &ObjectStore{
		objects:   afero.NewMemMapFs(),
		downloads: downloads,
		retry:     filesystem.DefaultRetryConfig(),
		names:     make(map[string]string),
	}
}

func objectPath(url string) (string, bool) {
	id, ok := strings.CutPrefix(url, objectScheme)
	if !ok || id == "" || strings.ContainsAny(id, "/\\") {
		return "", false
	}
	return "/" + id, true
}

// CreateURL stores data and returns its blob: URL.
func (o *ObjectStore) CreateURL(_ context.Context, name string, data io.Reader) (string, error) {
	url := objectScheme + uuid.NewString()
	p, _ := objectPath(url)

	if err := afero.WriteReader(o.objects, p, data); err != nil {
		return "", fmt.Errorf("store object for %s: %w", name, err)
	}

	o.mu.Lock()
	o.names[url] = name
	o.mu.Unlock()
	return url, nil
}

// Open returns the object behind url.
func (o *ObjectStore) Open(url string) (afero.File, error) {
	p, ok := objectPath(url)
	if !ok {
		return nil, ErrUnknownObject
	}
	o.mu.Lock()
	_, known := o.names[url]
	o.mu.Unlock()
	if !known {
		return nil, ErrUnknownObject
	}
	return filesystem.OpenWithRetry(o.objects, p, o.retry)
}

// Click saves the object to the downloads filesystem as name. Path
// separators in name are replaced, as a browser would.
func (o *ObjectStore) Click(ctx context.Context, url, name string) (err error) {
	src, err := o.Open(url)
	if err != nil {
		return err
	}
	defer src.Close()

	target := "/" + Sanitize(name, false)
	dst, err := o.downloads.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(dst, readerWithContext(ctx, src)); err != nil {
		return fmt.Errorf("save %s: %w", target, err)
	}

	o.mu.Lock()
	o.saved = append(o.saved, path.Clean(target))
	o.mu.Unlock()
	return nil
}

// Revoke drops the object behind url. Unknown URLs are ignored.
func (o *ObjectStore) Revoke(url string) error {
	o.mu.Lock()
	_, known := o.names[url]
	delete(o.names, url)
	o.mu.Unlock()

	if !known {
		return nil
	}
	p, _ := objectPath(url)
	return o.objects.Remove(p)
}

// Saved lists the download paths written by Click, in order.
func (o *ObjectStore) Saved() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.saved...)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Link is a delivered file kept for later access.
type Link struct {
	Name string
	URL  string
}

// LinkList records links delivered while KeepInMemory is set.
type LinkList struct {
	mu    sync.RWMutex
	links []Link
}

// Add appends a link.
func (l *LinkList) Add(link Link) {
	l.mu.Lock()
	l.links = append(l.links, link)
	l.mu.Unlock()
}

// All returns a copy of the recorded links.
func (l *LinkList) All() []Link {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Link(nil), l.links...)
}

// Len returns the number of recorded links.
func (l *LinkList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.links)
}

// Clear forgets every link.
func (l *LinkList) Clear() {
	l.mu.Lock()
	l.links = nil
	l.mu.Unlock()
}
