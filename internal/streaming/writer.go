package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"convert-web/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that a single write, or the stream as a whole,
	// exceeded its configured time budget.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the download client disconnected before
	// the archive was complete.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates that the writer was closed or went idle.
	ErrStreamCanceled = errors.New("stream canceled")
)

// TimeoutWriterConfig configures the timeout writer behavior
type TimeoutWriterConfig struct {
	// WriteTimeout bounds a single write to the client (0 = unbounded).
	WriteTimeout time.Duration
	// IdleTimeout is the maximum time between successful writes (0 = disabled).
	// Zip downloads sit idle while the producer compresses the next file, so
	// it is off unless configured.
	IdleTimeout time.Duration
	// MaxDuration is the absolute maximum streaming duration (0 = unlimited)
	MaxDuration time.Duration
	// ChunkSize splits large writes (0 = write as received)
	ChunkSize int
	// ProgressInterval is how many bytes pass between OnProgress calls.
	ProgressInterval int64
	// OnProgress is called roughly every ProgressInterval bytes.
	OnProgress func(bytesWritten int64, duration time.Duration)
}

// DefaultTimeoutWriterConfig returns the defaults used for zip downloads.
func DefaultTimeoutWriterConfig() TimeoutWriterConfig {
	return TimeoutWriterConfig{
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      0,
		MaxDuration:      0,
		ChunkSize:        64 * 1024,
		ProgressInterval: 1024 * 1024,
	}
}

// TimeoutWriter wraps an http.ResponseWriter with timeout protection and
// flushes after every write so chunks reach the client as they arrive.
type TimeoutWriter struct {
	w            http.ResponseWriter
	ctx          context.Context
	cancel       context.CancelFunc
	config       TimeoutWriterConfig
	startTime    time.Time
	lastWrite    time.Time
	lastProgress int64
	bytesWritten int64
	mu           sync.Mutex
	closed       bool
	idled        bool
	flusher      http.Flusher
}

// NewTimeoutWriter creates a new timeout-protected writer
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *TimeoutWriter {
	writerCtx, cancel := context.WithCancel(ctx)

	now := time.Now()
	tw := &TimeoutWriter{
		w:         w,
		ctx:       writerCtx,
		cancel:    cancel,
		config:    config,
		startTime: now,
		lastWrite: now,
	}

	if flusher, ok := w.(http.Flusher); ok {
		tw.flusher = flusher
	}

	if config.IdleTimeout > 0 {
		go tw.idleChecker()
	}

	return tw
}

// Done is closed when the writer is closed, times out, or its parent
// context ends.
func (tw *TimeoutWriter) Done() <-chan struct{} {
	return tw.ctx.Done()
}

// Write implements io.Writer with timeout protection
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}

	if err := tw.ctx.Err(); err != nil {
		return 0, tw.contextError()
	}

	if tw.config.MaxDuration > 0 && time.Since(tw.startTime) > tw.config.MaxDuration {
		return 0, ErrWriteTimeout
	}

	total := 0
	for len(p) > 0 {
		size := len(p)
		if tw.config.ChunkSize > 0 && size > tw.config.ChunkSize {
			size = tw.config.ChunkSize
		}

		n, err := tw.writeWithTimeout(p[:size])
		total += n
		if err != nil {
			return total, err
		}
		p = p[size:]
	}

	return total, nil
}

// writeWithTimeout performs a single write and flush with timeout
func (tw *TimeoutWriter) writeWithTimeout(p []byte) (int, error) {
	type writeResult struct {
		n   int
		err error
	}
	resultCh := make(chan writeResult, 1)

	go func() {
		n, err := tw.w.Write(p)
		if err == nil && tw.flusher != nil {
			tw.flusher.Flush()
		}
		resultCh <- writeResult{n, err}
	}()

	var timeout <-chan time.Time
	if tw.config.WriteTimeout > 0 {
		timer := time.NewTimer(tw.config.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-resultCh:
		if result.err == nil {
			tw.recordWrite(result.n)
		}
		return result.n, result.err

	case <-timeout:
		tw.cancel()
		return 0, ErrWriteTimeout

	case <-tw.ctx.Done():
		return 0, tw.contextError()
	}
}

func (tw *TimeoutWriter) recordWrite(n int) {
	tw.mu.Lock()
	tw.lastWrite = time.Now()
	tw.bytesWritten += int64(n)
	total := tw.bytesWritten
	report := tw.config.OnProgress != nil && tw.config.ProgressInterval > 0 &&
		total-tw.lastProgress >= tw.config.ProgressInterval
	if report {
		tw.lastProgress = total
	}
	tw.mu.Unlock()

	if report {
		tw.config.OnProgress(total, time.Since(tw.startTime))
	}
}

func (tw *TimeoutWriter) idleChecker() {
	ticker := time.NewTicker(tw.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.mu.Lock()
			idle := time.Since(tw.lastWrite)
			closed := tw.closed
			if !closed && idle > tw.config.IdleTimeout {
				tw.idled = true
			}
			idled := tw.idled
			tw.mu.Unlock()

			if closed {
				return
			}
			if idled {
				logging.Warn("Stream idle timeout exceeded: %v", idle)
				tw.cancel()
				return
			}

		case <-tw.ctx.Done():
			return
		}
	}
}

// contextError maps the writer context state onto a sentinel error.
func (tw *TimeoutWriter) contextError() error {
	tw.mu.Lock()
	idled, closed := tw.idled, tw.closed
	tw.mu.Unlock()

	if idled || closed {
		return ErrStreamCanceled
	}
	if errors.Is(tw.ctx.Err(), context.Canceled) {
		return ErrClientGone
	}
	return ErrStreamCanceled
}

// Close marks the writer as closed
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}

	tw.closed = true
	tw.cancel()

	return nil
}

// Stats returns streaming statistics
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten, time.Since(tw.startTime)
}

// StreamWithTimeout copies r to the response with timeout protection. If r
// is an io.Closer it is closed as soon as the writer gives up, which unblocks
// a Read waiting on a producer that will never finish.
func StreamWithTimeout(ctx context.Context, w http.ResponseWriter, r io.Reader, config TimeoutWriterConfig) (int64, error) {
	tw := NewTimeoutWriter(ctx, w, config)

	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close timeout writer: %v", err)
		}
	}()
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(tw.ctx, func() {
			if err := c.Close(); err != nil {
				logging.Debug("Closing stream source: %v", err)
			}
		})
		defer stop()
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	_, err := io.Copy(tw, r)

	bytesWritten, duration := tw.Stats()
	logging.Debug("Stream completed: %d bytes in %v", bytesWritten, duration)

	if err != nil {
		if ctxErr := tw.ctx.Err(); ctxErr != nil && !errors.Is(err, ErrWriteTimeout) {
			return bytesWritten, tw.contextError()
		}
	}
	return bytesWritten, err
}
