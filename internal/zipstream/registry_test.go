package zipstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustWrite(t *testing.T, r *Registry, id string, chunk []byte) {
	t.Helper()
	found, err := r.Write(context.Background(), id, chunk)
	if err != nil {
		t.Fatalf("Write(%s) failed: %v", id, err)
	}
	if !found {
		t.Fatalf("Expected transfer %s to exist", id)
	}
}

func TestCreateWriteCloseRead(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("t1")

	mustWrite(t, r, "t1", []byte{0x01, 0x02})
	mustWrite(t, r, "t1", []byte{0x03})
	if !r.Close("t1") {
		t.Fatal("Expected Close to find t1")
	}

	rc, err := r.Attach(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Expected [1 2 3], got %v", data)
	}

	n, err := rc.Read(make([]byte, 1))
	if n != 0 || err != io.EOF {
		t.Errorf("Expected EOF after drain, got n=%d err=%v", n, err)
	}
}

func TestChunkOrderPreservedWhileDraining(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("order")

	rc, err := r.Attach(context.Background(), "order")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	var expected []byte
	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(rc)
		done <- data
	}()

	for i := 0; i < 200; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i%7+1)
		expected = append(expected, chunk...)
		mustWrite(t, r, "order", chunk)
	}
	r.Close("order")

	select {
	case got := <-done:
		if !bytes.Equal(got, expected) {
			t.Errorf("Expected %d bytes in write order, got %d bytes", len(expected), len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reader did not reach end-of-stream")
	}
}

func TestShortReadSplitsChunk(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("split")
	mustWrite(t, r, "split", []byte("abcdef"))
	r.Close("split")

	rc, err := r.Attach(context.Background(), "split")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	buf := make([]byte, 4)
	n, err := rc.Read(buf)
	if err != nil || string(buf[:n]) != "abcd" {
		t.Fatalf("Expected abcd, got %q (%v)", buf[:n], err)
	}
	n, err = rc.Read(buf)
	if err != nil || string(buf[:n]) != "ef" {
		t.Fatalf("Expected ef, got %q (%v)", buf[:n], err)
	}
}

func TestWriteUnknownIDIsSilent(t *testing.T) {
	r := NewRegistry(Options{})

	found, err := r.Write(context.Background(), "missing", []byte("x"))
	if found || err != nil {
		t.Errorf("Expected (false, nil), got (%v, %v)", found, err)
	}
	if r.Close("missing") {
		t.Error("Expected Close of unknown id to report false")
	}
	if _, err := r.Attach(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("twice")
	mustWrite(t, r, "twice", []byte("a"))

	if !r.Close("twice") || !r.Close("twice") {
		t.Fatal("Expected both closes to find the transfer")
	}

	if _, err := r.Write(context.Background(), "twice", []byte("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}

	rc, err := r.Attach(context.Background(), "twice")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "a" {
		t.Errorf("Expected %q, got %q (%v)", "a", data, err)
	}
}

func TestAttachOnlyOnce(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("once")

	rc, err := r.Attach(context.Background(), "once")
	if err != nil {
		t.Fatalf("First attach failed: %v", err)
	}
	defer rc.Close()

	if _, err := r.Attach(context.Background(), "once"); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("Expected ErrAlreadyAttached, got %v", err)
	}

	info, ok := r.Get("once")
	if !ok || info.State != StateDraining {
		t.Errorf("Expected draining state, got %+v", info)
	}
}

func TestConsumedTransferIsRemoved(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("gone")
	mustWrite(t, r, "gone", []byte("zip"))
	r.Close("gone")

	rc, err := r.Attach(context.Background(), "gone")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	rc.Close()

	if _, ok := r.Get("gone"); ok {
		t.Error("Expected consumed transfer to be removed")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestDetachedReaderAbortsTransfer(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("cancel")
	mustWrite(t, r, "cancel", []byte("partial"))

	rc, err := r.Attach(context.Background(), "cancel")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	rc.Close()

	found, err := r.Write(context.Background(), "cancel", []byte("more"))
	if found || err != nil {
		t.Errorf("Expected detached transfer to be gone, got (%v, %v)", found, err)
	}
}

func TestDuplicateCreateOrphansPrevious(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("dup")
	mustWrite(t, r, "dup", []byte("old"))

	old, err := r.Attach(context.Background(), "dup")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer old.Close()

	r.Create("dup")

	buf := make([]byte, 16)
	if _, err := old.Read(buf); !errors.Is(err, ErrOrphaned) {
		t.Errorf("Expected ErrOrphaned on previous reader, got %v", err)
	}

	mustWrite(t, r, "dup", []byte("new"))
	r.Close("dup")

	rc, err := r.Attach(context.Background(), "dup")
	if err != nil {
		t.Fatalf("Attach of replacement failed: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "new" {
		t.Errorf("Expected %q, got %q", "new", data)
	}
}

func TestReadBlocksUntilWrite(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("wait")

	rc, err := r.Attach(context.Background(), "wait")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := rc.Read(buf)
		got <- string(buf[:n])
	}()

	select {
	case <-got:
		t.Fatal("Expected Read to block on an empty open stream")
	case <-time.After(20 * time.Millisecond):
	}

	mustWrite(t, r, "wait", []byte("hi"))

	select {
	case s := <-got:
		if s != "hi" {
			t.Errorf("Expected %q, got %q", "hi", s)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not wake after write")
	}
}

func TestReadHonorsContext(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("ctx")

	ctx, cancel := context.WithCancel(context.Background())
	rc, err := r.Attach(ctx, "ctx")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	cancel()
	if _, err := rc.Read(make([]byte, 4)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMaxBufferedBytesBlocksWriter(t *testing.T) {
	r := NewRegistry(Options{MaxBufferedBytes: 4})
	r.Create("bp")
	mustWrite(t, r, "bp", []byte("abcd"))

	written := make(chan error, 1)
	go func() {
		_, err := r.Write(context.Background(), "bp", []byte("ef"))
		written <- err
	}()

	select {
	case <-written:
		t.Fatal("Expected write to block while buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	rc, err := r.Attach(context.Background(), "bp")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	if _, err := rc.Read(make([]byte, 4)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	select {
	case err := <-written:
		if err != nil {
			t.Errorf("Expected blocked write to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write did not resume after read")
	}
}

func TestMaxBufferedBytesWriteCanceled(t *testing.T) {
	r := NewRegistry(Options{MaxBufferedBytes: 2})
	r.Create("bp")
	mustWrite(t, r, "bp", []byte("ab"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	found, err := r.Write(ctx, "bp", []byte("c"))
	if !found || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected (true, deadline exceeded), got (%v, %v)", found, err)
	}
}

func TestSweepExpiresIdleTransfers(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("stale")

	rc, err := r.Attach(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer rc.Close()

	if n := r.Sweep(0); n != 0 {
		t.Errorf("Expected Sweep(0) to be disabled, removed %d", n)
	}

	time.Sleep(20 * time.Millisecond)
	r.Create("fresh")

	if n := r.Sweep(10 * time.Millisecond); n != 1 {
		t.Fatalf("Expected 1 expired transfer, got %d", n)
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("Expected fresh transfer to survive the sweep")
	}
	if _, err := rc.Read(make([]byte, 1)); !errors.Is(err, ErrExpired) {
		t.Errorf("Expected ErrExpired on swept reader, got %v", err)
	}
}

func TestRunSweeperStops(t *testing.T) {
	r := NewRegistry(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.RunSweeper(ctx, 5*time.Millisecond, time.Millisecond)
	}()

	r.Create("swept")
	deadline := time.Now().Add(time.Second)
	for r.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if r.Len() != 0 {
		t.Error("Expected sweeper to remove the idle transfer")
	}
}

func TestListAndStats(t *testing.T) {
	r := NewRegistry(Options{})
	r.Create("a")
	r.Create("b")
	mustWrite(t, r, "a", []byte("123"))
	r.Close("b")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("Expected 2 transfers, got %d", len(list))
	}

	byState, buffered := r.Stats()
	if byState["open"] != 1 || byState["closed"] != 1 {
		t.Errorf("Expected one open and one closed, got %v", byState)
	}
	if buffered != 3 {
		t.Errorf("Expected 3 buffered bytes, got %d", buffered)
	}

	info, _ := r.Get("a")
	if info.BytesWritten != 3 || info.State != StateOpen {
		t.Errorf("Unexpected info for a: %+v", info)
	}
}

func TestConcurrentTransfersAreIndependent(t *testing.T) {
	r := NewRegistry(Options{})
	ids := []string{"x", "y", "z"}

	var wg sync.WaitGroup
	results := make(map[string][]byte)
	var mu sync.Mutex

	for _, id := range ids {
		r.Create(id)
		rc, err := r.Attach(context.Background(), id)
		if err != nil {
			t.Fatalf("Attach %s failed: %v", id, err)
		}
		wg.Add(1)
		go func(id string, rc io.ReadCloser) {
			defer wg.Done()
			defer rc.Close()
			data, _ := io.ReadAll(rc)
			mu.Lock()
			results[id] = data
			mu.Unlock()
		}(id, rc)
	}

	for i := 0; i < 50; i++ {
		for _, id := range ids {
			mustWrite(t, r, id, []byte(id))
		}
	}
	for _, id := range ids {
		r.Close(id)
	}
	wg.Wait()

	for _, id := range ids {
		if !bytes.Equal(results[id], bytes.Repeat([]byte(id), 50)) {
			t.Errorf("Transfer %s received foreign or missing bytes", id)
		}
	}
}
