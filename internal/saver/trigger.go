package saver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sync"

	"github.com/spf13/afero"

	"convert-web/internal/logging"
)

const fallbackDownloadName = "download.zip"

// HTTPTrigger is a DeliveryTrigger that downloads the URL with an HTTP GET
// and saves the body into an afero filesystem under the name announced in
// Content-Disposition. Trigger returns once the response headers arrived;
// Wait blocks until every started download finished.
type HTTPTrigger struct {
	client *http.Client
	dest   afero.Fs
	// OnProgress, if set, receives the byte count of each saved piece.
	OnProgress func(n int)

	wg    sync.WaitGroup
	mu    sync.Mutex
	saved []string
	err   error
}

// NewHTTPTrigger saves downloads into dest.
func NewHTTPTrigger(client *http.Client, dest afero.Fs) *HTTPTrigger {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTrigger{client: client, dest: dest}
}

// Trigger starts downloading url. A failure to obtain a 200 response is
// reported as ErrPopupBlocked: nothing will consume the transfer.
func (t *HTTPTrigger) Trigger(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("%w: status %d", ErrPopupBlocked, resp.StatusCode)
	}

	name := downloadName(resp.Header.Get("Content-Disposition"))
	f, err := t.dest.Create("/" + name)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("create %s: %w", name, err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer resp.Body.Close()

		var w io.Writer = f
		if t.OnProgress != nil {
			w = progressWriter{w: f, fn: t.OnProgress}
		}
		_, copyErr := io.Copy(w, resp.Body)
		closeErr := f.Close()

		t.mu.Lock()
		defer t.mu.Unlock()
		switch {
		case copyErr != nil:
			t.err = fmt.Errorf("download %s: %w", name, copyErr)
		case closeErr != nil:
			t.err = fmt.Errorf("download %s: %w", name, closeErr)
		default:
			t.saved = append(t.saved, name)
			logging.Debug("Download saved as %s", name)
		}
	}()
	return nil
}

// Wait blocks until all downloads finished and returns the saved names and
// the last error.
func (t *HTTPTrigger) Wait() ([]string, error) {
	t.wg.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.saved...), t.err
}

// downloadName reads the filename parameter of a Content-Disposition
// header, reduced to its base name.
func downloadName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallbackDownloadName
	}
	name := path.Base(params["filename"])
	if name == "" || name == "." || name == "/" {
		return fallbackDownloadName
	}
	return Sanitize(name, false)
}

type progressWriter struct {
	w  io.Writer
	fn func(n int)
}

func (p progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.fn(n)
	}
	return n, err
}
