package saver

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"convert-web/internal/bridge"
	"convert-web/internal/logging"
)

// DownloadPath is appended to the base URL, followed by the transfer id.
const DownloadPath = "downloader?id="

// DownloadURL builds the URL that serves transfer id.
func DownloadURL(baseURL, id string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + DownloadPath + id
}

func newTransferID() string {
	return uuid.NewString()
}

// memArchive keeps entries until build. A later entry with the same name
// replaces the earlier one; folders are created for nested names.
type memArchive struct {
	entries []memEntry
	index   map[string]int
	folders map[string]bool
	created time.Time
}

type memEntry struct {
	name string
	dir  bool
	data []byte
}

func newMemArchive() *memArchive {
	return &memArchive{
		index:   make(map[string]int),
		folders: make(map[string]bool),
		created: time.Now(),
	}
}

func (a *memArchive) add(name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	name = strings.TrimLeft(name, "/")
	segments := strings.Split(name, "/")
	for i := 1; i < len(segments); i++ {
		folder := strings.Join(segments[:i], "/") + "/"
		if segments[i-1] == "" || a.folders[folder] {
			continue
		}
		a.folders[folder] = true
		a.entries = append(a.entries, memEntry{name: folder, dir: true})
	}

	if i, ok := a.index[name]; ok {
		a.entries[i].data = data
		return nil
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, memEntry{name: name, data: data})
	return nil
}

func (a *memArchive) build(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, e := range a.entries {
		header := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: a.created,
		}
		if e.dir {
			header.Method = zip.Store
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if !e.dir {
			if _, err := fw.Write(e.data); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

// streamArchive writes zip entries as they arrive. Output is cut into
// chunks of at most ChunkSize bytes before reaching dest.
type streamArchive struct {
	id   string
	zw   *zip.Writer
	buf  *bufio.Writer
	dest io.WriteCloser
}

func newStreamArchive(id string, dest io.WriteCloser, chunkSize int) *streamArchive {
	buf := bufio.NewWriterSize(dest, chunkSize)
	return &streamArchive{
		id:   id,
		zw:   zip.NewWriter(buf),
		buf:  buf,
		dest: dest,
	}
}

func (a *streamArchive) add(name string, r io.Reader) error {
	fw, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     strings.TrimLeft(name, "/"),
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

func (a *streamArchive) close() error {
	zipErr := a.zw.Close()
	flushErr := a.buf.Flush()
	closeErr := a.dest.Close()
	if err := errors.Join(zipErr, flushErr, closeErr); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// openStream tries the save picker first and the bridge second.
func (s *FileSaver) openStream(ctx context.Context) (*streamArchive, error) {
	if s.caps.SavePicker != nil {
		dest, err := s.caps.SavePicker.PickSaveFile(ctx, s.ArchiveName())
		if err == nil {
			return newStreamArchive("", dest, s.opts.ChunkSize), nil
		}
		if errors.Is(err, ErrPickerCancelled) {
			logging.Info("Save picker cancelled, trying the download bridge")
		} else {
			logging.Warn("Save picker failed: %v", err)
		}
	}

	if s.caps.Bridge == nil {
		return nil, errors.New("no download bridge available")
	}

	trigger, popup := s.trigger()
	if trigger == nil {
		return nil, errors.New("no delivery trigger available")
	}

	id := s.opts.NewID()
	upload, err := s.caps.Bridge.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	archive := newStreamArchive(id, upload, s.opts.ChunkSize)

	downloadURL := DownloadURL(s.opts.BaseURL, id)
	if err := trigger.Trigger(ctx, downloadURL); err != nil {
		if popup && errors.Is(err, ErrPopupBlocked) {
			s.alert(popupAlert)
		}
		logging.Warn("Could not start download of %s: %v", downloadURL, err)
	}

	if popup {
		if err := archive.add(placeholderName, strings.NewReader(placeholderText)); err != nil {
			_ = upload.Close()
			return nil, err
		}
	}
	return archive, nil
}

// trigger picks the frame trigger when pop-ups are unreliable and the
// popup trigger otherwise, using the other one if the preferred is absent.
func (s *FileSaver) trigger() (DeliveryTrigger, bool) {
	if s.caps.PopupsUnreliable {
		if s.caps.Frame != nil {
			return s.caps.Frame, false
		}
		if s.caps.Popup != nil {
			return s.caps.Popup, true
		}
		return nil, false
	}
	if s.caps.Popup != nil {
		return s.caps.Popup, true
	}
	if s.caps.Frame != nil {
		return s.caps.Frame, false
	}
	return nil, false
}

func (s *FileSaver) alert(message string) {
	if s.caps.Notifier != nil {
		s.caps.Notifier.Alert(message)
		return
	}
	logging.Warn("%s", message)
}

var _ io.WriteCloser = (*bridge.Upload)(nil)
