package saver

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/goleak"

	"convert-web/internal/bridge"
	"convert-web/internal/zipstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = func() time.Time { return time.UnixMilli(1700000000123) }

func newDownloads(t *testing.T) (afero.Fs, *ObjectStore) {
	t.Helper()
	downloads := afero.NewMemMapFs()
	return downloads, NewObjectStore(downloads)
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Invalid zip archive: %v", err)
	}
	files := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open %s failed: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = string(body)
	}
	return files
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Alert(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

type nopWriteCloser struct {
	*bytes.Buffer
	closed bool
}

func (n *nopWriteCloser) Close() error {
	n.closed = true
	return nil
}

type fakePicker struct {
	err  error
	dest *nopWriteCloser
	name string
}

func (p *fakePicker) PickSaveFile(_ context.Context, suggested string) (io.WriteCloser, error) {
	p.name = suggested
	if p.err != nil {
		return nil, p.err
	}
	p.dest = &nopWriteCloser{Buffer: &bytes.Buffer{}}
	return p.dest, nil
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		allowSlash bool
		expected   string
	}{
		{"slash replaced", "a/b:c.mp4", false, "a∕b∶c.mp4"},
		{"slash kept", "a/b:c.mp4", true, "a/b∶c.mp4"},
		{"all characters", `<>:"\|?*`, false, "‹›∶″∖¦¿"},
		{"star removed", "a*b", true, "ab"},
		{"plain name", "video.mkv", false, "video.mkv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input, tt.allowSlash); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestChangeExtension(t *testing.T) {
	tests := []struct {
		path, ext, expected string
	}{
		{"video.mp4", "mkv", "video.mkv"},
		{"dir/a.b.mp4", "webm", "dir/a.b.webm"},
		{"video.mp4", "", "video.mp4"},
		{"noext", "mp3", "noext.mp3"},
		{"dir.v2/noext", "mp3", "dir.v2/noext.mp3"},
	}

	for _, tt := range tests {
		if got := ChangeExtension(tt.path, tt.ext); got != tt.expected {
			t.Errorf("ChangeExtension(%q, %q): expected %q, got %q", tt.path, tt.ext, tt.expected, got)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, expected := range map[string]Mode{
		"zip": ModeZip, "zipjs": ModeZipJS, "handle": ModeHandle, "link": ModeLink, "": ModeLink, "other": ModeLink,
	} {
		if got := ParseMode(in); got != expected {
			t.Errorf("ParseMode(%q): expected %s, got %s", in, expected, got)
		}
	}
}

func TestDownloadURL(t *testing.T) {
	if got := DownloadURL("http://host/app", "x"); got != "http://host/app/downloader?id=x" {
		t.Errorf("Unexpected URL %s", got)
	}
	if got := DownloadURL("http://host/app/", "x"); got != "http://host/app/downloader?id=x" {
		t.Errorf("Unexpected URL %s", got)
	}
}

func TestNewRequiresLinks(t *testing.T) {
	_, err := New(context.Background(), ModeLink, Capabilities{}, Settings{}, Options{})
	if !errors.Is(err, ErrNoLinkDeliverer) {
		t.Errorf("Expected ErrNoLinkDeliverer, got %v", err)
	}
}

func TestLinkStrategy(t *testing.T) {
	downloads, store := newDownloads(t)
	links := &LinkList{}

	s, err := New(context.Background(), ModeLink, Capabilities{Links: store},
		Settings{KeepInMemory: true, RevokeObjectURL: false}, Options{Links: links})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Write(context.Background(), []byte("one"), "a:b.txt", false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := afero.ReadFile(downloads, "/a∶b.txt")
	if err != nil {
		t.Fatalf("Expected downloaded file: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("Expected body 'one', got %q", data)
	}

	if links.Len() != 1 {
		t.Fatalf("Expected 1 recorded link, got %d", links.Len())
	}
	f, err := store.Open(links.All()[0].URL)
	if err != nil {
		t.Fatalf("Expected kept link to stay readable: %v", err)
	}
	f.Close()
}

func TestLinkStrategyRevokes(t *testing.T) {
	_, store := newDownloads(t)
	links := &LinkList{}

	s, err := New(context.Background(), ModeLink, Capabilities{Links: store},
		Settings{KeepInMemory: false, RevokeObjectURL: true}, Options{Links: links})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Write(context.Background(), []byte("x"), "x.bin", false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if links.Len() != 0 {
		t.Errorf("Expected no recorded links without KeepInMemory, got %d", links.Len())
	}
	if len(store.Saved()) != 1 {
		t.Errorf("Expected one saved download, got %v", store.Saved())
	}
}

func TestHandleWithoutDirectoryFallsBackToLink(t *testing.T) {
	_, store := newDownloads(t)
	s, err := New(context.Background(), ModeHandle, Capabilities{Links: store}, Settings{}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Mode() != ModeLink {
		t.Errorf("Expected link mode, got %s", s.Mode())
	}
}

func TestHandleStrategy(t *testing.T) {
	_, store := newDownloads(t)
	dir := afero.NewMemMapFs()

	s, err := New(context.Background(), ModeHandle, Capabilities{Links: store, Directory: dir}, Settings{}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Write(context.Background(), []byte("nested"), "out/sub/clip?.mp4", false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := afero.ReadFile(dir, "/out/sub/clip¿.mp4")
	if err != nil {
		t.Fatalf("Expected nested file: %v", err)
	}
	if string(data) != "nested" {
		t.Errorf("Expected 'nested', got %q", data)
	}
}

func TestHandleWriteWithoutDirectory(t *testing.T) {
	s := &FileSaver{mode: ModeHandle}
	err := s.Write(context.Background(), []byte("x"), "x", false)
	if !errors.Is(err, ErrNoDirectoryHandle) {
		t.Errorf("Expected ErrNoDirectoryHandle, got %v", err)
	}
}

func TestArchiveWritesBeforeInit(t *testing.T) {
	for _, mode := range []Mode{ModeZip, ModeZipJS} {
		s := &FileSaver{mode: mode}
		if err := s.Write(context.Background(), []byte("x"), "x", false); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("%s: expected ErrNotInitialized, got %v", mode, err)
		}
	}
}

func TestZipStrategy(t *testing.T) {
	downloads, store := newDownloads(t)
	ctx := context.Background()

	s, err := New(ctx, ModeZip, Capabilities{Links: store}, Settings{}, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	writes := map[string]string{
		"a/b:c.mp4": "first",
		"top.txt":   "top",
	}
	for name, body := range writes {
		if err := s.Write(ctx, []byte(body), name, false); err != nil {
			t.Fatalf("Write %s failed: %v", name, err)
		}
	}
	if err := s.Write(ctx, []byte("replaced"), "top.txt", false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := s.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	data, err := afero.ReadFile(downloads, "/ConvertWeb-Zip-1700000000123.zip")
	if err != nil {
		t.Fatalf("Expected archive download: %v", err)
	}
	files := readZip(t, data)

	if files["a/b∶c.mp4"] != "first" {
		t.Errorf("Expected nested entry, got %v", files)
	}
	if files["top.txt"] != "replaced" {
		t.Errorf("Expected replaced entry, got %q", files["top.txt"])
	}
	if _, ok := files["a/"]; !ok {
		t.Error("Expected folder entry a/")
	}

	if err := s.Write(ctx, []byte("late"), "late.txt", false); !errors.Is(err, ErrReleased) {
		t.Errorf("Expected ErrReleased, got %v", err)
	}
	if err := s.Release(ctx); err != nil {
		t.Errorf("Expected second Release to be a no-op, got %v", err)
	}
}

func TestForceLinkBypassesArchive(t *testing.T) {
	downloads, store := newDownloads(t)
	ctx := context.Background()

	s, err := New(ctx, ModeZip, Capabilities{Links: store}, Settings{}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Write(ctx, []byte("direct"), "direct.txt", true); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if ok, _ := afero.Exists(downloads, "/direct.txt"); !ok {
		t.Error("Expected forced link download")
	}
}

func TestZipJSWithSavePicker(t *testing.T) {
	_, store := newDownloads(t)
	picker := &fakePicker{}
	ctx := context.Background()

	s, err := New(ctx, ModeZipJS, Capabilities{Links: store, SavePicker: picker}, Settings{}, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Mode() != ModeZipJS {
		t.Fatalf("Expected zipjs mode, got %s", s.Mode())
	}
	if picker.name != "ConvertWeb-Zip-1700000000123.zip" {
		t.Errorf("Unexpected suggested name %s", picker.name)
	}

	if err := s.Write(ctx, []byte("payload"), "dir/file.bin", false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if !picker.dest.closed {
		t.Error("Expected destination closed on release")
	}
	files := readZip(t, picker.dest.Bytes())
	if files["dir/file.bin"] != "payload" {
		t.Errorf("Expected streamed entry, got %v", files)
	}
	if _, ok := files[placeholderName]; ok {
		t.Error("Expected no placeholder in picker path")
	}
}

func TestZipJSWithoutBridgeFallsBackToZip(t *testing.T) {
	_, store := newDownloads(t)
	picker := &fakePicker{err: ErrPickerCancelled}

	s, err := New(context.Background(), ModeZipJS, Capabilities{Links: store, SavePicker: picker}, Settings{}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Mode() != ModeZip {
		t.Errorf("Expected fallback to zip, got %s", s.Mode())
	}
}

// bridgeFixture runs a worker over a registry, plus a trigger that drains
// the transfer named in the download URL.
type bridgeFixture struct {
	registry *zipstream.Registry
	client   *bridge.Client
	stop     func()
}

func newBridgeFixture(t *testing.T, clientOpts bridge.ClientOptions) *bridgeFixture {
	t.Helper()
	registry := zipstream.NewRegistry(zipstream.Options{})
	hub := bridge.NewHub(0)
	worker := bridge.NewWorker(registry, hub, bridge.WorkerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	f := &bridgeFixture{
		registry: registry,
		client:   bridge.NewClient(&bridge.LocalTransport{Worker: worker, Hub: hub}, clientOpts),
		stop: func() {
			cancel()
			<-worker.Done()
		},
	}
	t.Cleanup(f.stop)
	return f
}

type drainTrigger struct {
	registry *zipstream.Registry
	err      error
	urls     []string
	out      chan []byte
}

func (d *drainTrigger) Trigger(ctx context.Context, url string) error {
	d.urls = append(d.urls, url)
	if d.err != nil {
		return d.err
	}
	id := url[strings.LastIndex(url, "id=")+len("id="):]
	rc, err := d.registry.Attach(ctx, id)
	if err != nil {
		return err
	}
	go func() {
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		d.out <- data
	}()
	return nil
}

func TestZipJSOverBridgePopup(t *testing.T) {
	for _, inFlight := range []int{0, 2} {
		f := newBridgeFixture(t, bridge.ClientOptions{MaxInFlight: inFlight, AckTimeout: time.Second})
		_, store := newDownloads(t)
		trigger := &drainTrigger{registry: f.registry, out: make(chan []byte, 1)}
		ctx := context.Background()

		s, err := New(ctx, ModeZipJS, Capabilities{Links: store, Bridge: f.client, Popup: trigger},
			Settings{}, Options{BaseURL: "http://localhost:8080", ChunkSize: 512, NewID: func() string { return "t1" }})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if s.TransferID() != "t1" {
			t.Errorf("Expected transfer id t1, got %s", s.TransferID())
		}
		if trigger.urls[0] != "http://localhost:8080/downloader?id=t1" {
			t.Errorf("Unexpected download URL %s", trigger.urls[0])
		}

		big := bytes.Repeat([]byte("0123456789abcdef"), 1024)
		if err := s.Write(ctx, big, "big.bin", false); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := s.Release(ctx); err != nil {
			t.Fatalf("Release failed: %v", err)
		}

		select {
		case data := <-trigger.out:
			files := readZip(t, data)
			if files["big.bin"] != string(big) {
				t.Errorf("Expected big.bin intact (in-flight %d)", inFlight)
			}
			if files[placeholderName] != placeholderText {
				t.Errorf("Expected placeholder entry, got %q", files[placeholderName])
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for streamed archive")
		}

		if f.registry.Len() != 0 {
			t.Errorf("Expected consumed transfer removed, got %d entries", f.registry.Len())
		}
	}
}

func TestZipJSPopupBlockedAlerts(t *testing.T) {
	f := newBridgeFixture(t, bridge.DefaultClientOptions())
	_, store := newDownloads(t)
	notifier := &recordingNotifier{}
	trigger := &drainTrigger{err: ErrPopupBlocked}
	ctx := context.Background()

	s, err := New(ctx, ModeZipJS, Capabilities{Links: store, Bridge: f.client, Popup: trigger, Notifier: notifier},
		Settings{}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Mode() != ModeZipJS {
		t.Errorf("Expected zipjs mode despite blocked popup, got %s", s.Mode())
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != popupAlert {
		t.Errorf("Expected pop-up alert, got %v", notifier.messages)
	}

	if err := s.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestZipJSFrameWhenPopupsUnreliable(t *testing.T) {
	f := newBridgeFixture(t, bridge.DefaultClientOptions())
	_, store := newDownloads(t)
	popup := &drainTrigger{registry: f.registry, out: make(chan []byte, 1)}
	frame := &drainTrigger{registry: f.registry, out: make(chan []byte, 1)}
	ctx := context.Background()

	s, err := New(ctx, ModeZipJS, Capabilities{
		Links: store, Bridge: f.client, Popup: popup, Frame: frame, PopupsUnreliable: true,
	}, Settings{}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(popup.urls) != 0 || len(frame.urls) != 1 {
		t.Fatalf("Expected frame trigger only, got popup=%d frame=%d", len(popup.urls), len(frame.urls))
	}

	if err := s.Write(ctx, []byte("x"), "x.txt", false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	data := <-frame.out
	files := readZip(t, data)
	if _, ok := files[placeholderName]; ok {
		t.Error("Expected no placeholder in frame path")
	}
	if files["x.txt"] != "x" {
		t.Errorf("Expected x.txt entry, got %v", files)
	}
}

func TestHTTPTriggerDownloadName(t *testing.T) {
	tests := map[string]string{
		`attachment; filename="ConvertWeb-Zip-1.zip"`: "ConvertWeb-Zip-1.zip",
		`attachment; filename="../../etc/passwd"`:     "passwd",
		``:           fallbackDownloadName,
		`attachment`: fallbackDownloadName,
	}
	for header, expected := range tests {
		if got := downloadName(header); got != expected {
			t.Errorf("downloadName(%q): expected %q, got %q", header, expected, got)
		}
	}
}
