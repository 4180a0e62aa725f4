package saver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"

	"convert-web/internal/bridge"
	"convert-web/internal/logging"
)

// Mode names a delivery strategy.
type Mode string

const (
	ModeLink   Mode = "link"
	ModeZip    Mode = "zip"
	ModeZipJS  Mode = "zipjs"
	ModeHandle Mode = "handle"
)

// ParseMode maps a name to a Mode. Unknown names select ModeLink.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeZip, ModeZipJS, ModeHandle:
		return Mode(s)
	default:
		return ModeLink
	}
}

var (
	// ErrNoDirectoryHandle is returned by handle writes without a directory.
	ErrNoDirectoryHandle = errors.New("no directory handle granted")
	// ErrNotInitialized is returned by archive writes before the archive exists.
	ErrNotInitialized = errors.New("archive not initialized")
	// ErrReleased is returned by archive writes after Release.
	ErrReleased = errors.New("archive already released")
	// ErrPickerCancelled is returned by a SavePicker when the user cancels.
	ErrPickerCancelled = errors.New("save picker cancelled")
	// ErrPopupBlocked is returned by a popup DeliveryTrigger that could not open.
	ErrPopupBlocked = errors.New("pop-up window blocked")
	// ErrNoLinkDeliverer is returned by New when Capabilities.Links is nil.
	ErrNoLinkDeliverer = errors.New("no link deliverer")
)

const (
	// DefaultArchivePrefix names generated archives: <prefix>-<unix ms>.zip
	DefaultArchivePrefix = "ConvertWeb-Zip"
	// DefaultChunkSize is the size of the pieces a streamed archive is cut into.
	DefaultChunkSize = 64 * 1024

	placeholderName = "_.txt"
	placeholderText = "This file was automatically generated to close your browser's pop-up window. You can safely delete it."
	popupAlert      = "A pop-up window was blocked. Please open it so that the download can start."
)

// SavePicker asks the user for a destination file.
type SavePicker interface {
	PickSaveFile(ctx context.Context, suggestedName string) (io.WriteCloser, error)
}

// DeliveryTrigger starts the download of url. It returns once the download
// has started, not when it completes.
type DeliveryTrigger interface {
	Trigger(ctx context.Context, url string) error
}

// LinkDeliverer turns bytes into a temporary URL and downloads it.
type LinkDeliverer interface {
	CreateURL(ctx context.Context, name string, data io.Reader) (string, error)
	Click(ctx context.Context, url, name string) error
	Revoke(url string) error
}

// Notifier shows a message to the user.
type Notifier interface {
	Alert(message string)
}

// Capabilities describes the environment. Nil fields are absent.
type Capabilities struct {
	SavePicker SavePicker
	Directory  afero.Fs
	Bridge     *bridge.Client
	Popup      DeliveryTrigger
	Frame      DeliveryTrigger
	// PopupsUnreliable selects Frame over Popup.
	PopupsUnreliable bool
	Links            LinkDeliverer
	Notifier         Notifier
}

// Settings are the two user preferences the saver reads.
type Settings struct {
	KeepInMemory    bool
	RevokeObjectURL bool
}

// Options tune a FileSaver.
type Options struct {
	// BaseURL is the page URL the download path is appended to.
	BaseURL       string
	ArchivePrefix string
	// Links records delivered links when Settings.KeepInMemory is set.
	Links     *LinkList
	ChunkSize int
	Now       func() time.Time
	// NewID mints transfer ids. Nil uses random UUIDs.
	NewID func() string
}

// FileSaver writes files through the strategy chosen at New.
type FileSaver struct {
	mode     Mode
	caps     Capabilities
	settings Settings
	opts     Options

	mu       sync.Mutex
	memory   *memArchive
	stream   *streamArchive
	released bool
}

// New commits to a strategy for requested. The context must outlive the
// session when the bridge is used.
func New(ctx context.Context, requested Mode, caps Capabilities, settings Settings, opts Options) (*FileSaver, error) {
	if caps.Links == nil {
		return nil, ErrNoLinkDeliverer
	}
	if opts.ArchivePrefix == "" {
		opts.ArchivePrefix = DefaultArchivePrefix
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newTransferID
	}

	s := &FileSaver{
		caps:     caps,
		settings: settings,
		opts:     opts,
	}

	switch requested {
	case ModeHandle:
		if caps.Directory != nil {
			s.mode = ModeHandle
		} else {
			logging.Debug("No directory granted, saving files as links")
			s.mode = ModeLink
		}
	case ModeZip:
		s.mode = ModeZip
		s.memory = newMemArchive()
	case ModeZipJS:
		stream, err := s.openStream(ctx)
		if err != nil {
			logging.Warn("Streamed archive unavailable, building it in memory: %v", err)
			s.mode = ModeZip
			s.memory = newMemArchive()
		} else {
			s.mode = ModeZipJS
			s.stream = stream
		}
	default:
		s.mode = ModeLink
	}

	logging.Debug("File saver using %s strategy (requested %s)", s.mode, requested)
	return s, nil
}

// Mode returns the strategy in use.
func (s *FileSaver) Mode() Mode {
	return s.mode
}

// TransferID returns the bridge transfer id of a streamed archive, or "".
func (s *FileSaver) TransferID() string {
	if s.stream == nil {
		return ""
	}
	return s.stream.id
}

// ArchiveName returns a fresh archive file name.
func (s *FileSaver) ArchiveName() string {
	return fmt.Sprintf("%s-%d.zip", s.opts.ArchivePrefix, s.opts.Now().UnixMilli())
}

// Write saves data under name. forceLink bypasses the strategy and
// delivers the bytes as a single link download.
func (s *FileSaver) Write(ctx context.Context, data []byte, name string, forceLink bool) error {
	return s.WriteFrom(ctx, bytes.NewReader(data), name, forceLink)
}

// WriteFrom is Write for a reader.
func (s *FileSaver) WriteFrom(ctx context.Context, r io.Reader, name string, forceLink bool) error {
	if forceLink {
		return s.deliverLink(ctx, r, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeZip:
		if s.released {
			return ErrReleased
		}
		if s.memory == nil {
			return ErrNotInitialized
		}
		return s.memory.add(Sanitize(name, true), r)
	case ModeZipJS:
		if s.released {
			return ErrReleased
		}
		if s.stream == nil {
			return ErrNotInitialized
		}
		return s.stream.add(Sanitize(name, true), r)
	case ModeHandle:
		return s.writeHandle(r, name)
	default:
		return s.deliverLink(ctx, r, name)
	}
}

// Release finishes an archive: the in-memory archive is delivered as one
// link download and a streamed archive is closed. For link and handle it
// does nothing. Calling it again is a no-op.
func (s *FileSaver) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}

	switch s.mode {
	case ModeZip:
		if s.memory == nil {
			return nil
		}
		s.released = true
		var buf bytes.Buffer
		if err := s.memory.build(&buf); err != nil {
			return fmt.Errorf("build archive: %w", err)
		}
		s.memory = nil
		return s.deliverLink(ctx, &buf, s.ArchiveName())
	case ModeZipJS:
		if s.stream == nil {
			return nil
		}
		s.released = true
		return s.stream.close()
	}
	return nil
}
