package zipstream

import (
	"context"
	"io"
	"sync"
	"time"

	"convert-web/internal/metrics"
)

// Stream is an ordered in-memory byte queue with one writable half and one
// readable half. Chunks are kept as written; a Read with a short buffer
// splits a chunk but never merges or reorders them.
type Stream struct {
	mu          sync.Mutex
	chunks      [][]byte
	buffered    int64
	written     int64
	read        int64
	closed      bool
	consumed    bool
	attached    bool
	err         error
	notify      chan struct{}
	maxBuffered int64
	createdAt   time.Time
	updatedAt   time.Time
}

func newStream(maxBuffered int64) *Stream {
	now := time.Now()
	return &Stream{
		notify:      make(chan struct{}),
		maxBuffered: maxBuffered,
		createdAt:   now,
		updatedAt:   now,
	}
}

// signal wakes every goroutine waiting on the stream. Caller holds mu.
func (s *Stream) signal() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// write appends a copy of p. It blocks only when maxBuffered is set and the
// queue is full; an empty queue always accepts one chunk so oversized chunks
// cannot wedge the stream.
func (s *Stream) write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	for {
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return err
		}
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.maxBuffered <= 0 || s.buffered == 0 || s.buffered+int64(len(p)) <= s.maxBuffered {
			break
		}

		wait := s.notify
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}

	if len(p) > 0 {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		s.chunks = append(s.chunks, chunk)
		s.buffered += int64(len(p))
		s.written += int64(len(p))
	}
	s.updatedAt = time.Now()
	s.signal()
	s.mu.Unlock()

	metrics.TransferBytesWritten.Add(float64(len(p)))
	return nil
}

// close marks the writable half done. Returns false if it was already closed.
func (s *Stream) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	s.updatedAt = time.Now()
	s.signal()
	return true
}

// abort fails both halves with err and drops buffered data.
func (s *Stream) abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || s.consumed {
		return
	}
	s.err = err
	s.chunks = nil
	s.buffered = 0
	s.updatedAt = time.Now()
	s.signal()
}

// attach claims the readable half. Only the first call succeeds.
func (s *Stream) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached || s.err != nil {
		return false
	}
	s.attached = true
	s.updatedAt = time.Now()
	return true
}

// next copies buffered bytes into p, waiting for the writer when the queue
// is empty. It returns io.EOF once the stream is closed and drained.
func (s *Stream) next(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	for {
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return 0, err
		}

		if len(s.chunks) > 0 {
			n := copy(p, s.chunks[0])
			if n == len(s.chunks[0]) {
				s.chunks[0] = nil
				s.chunks = s.chunks[1:]
			} else {
				s.chunks[0] = s.chunks[0][n:]
			}
			s.buffered -= int64(n)
			s.read += int64(n)
			s.updatedAt = time.Now()
			s.signal()
			s.mu.Unlock()

			metrics.TransferBytesServed.Add(float64(n))
			return n, nil
		}

		if s.closed {
			s.consumed = true
			s.mu.Unlock()
			return 0, io.EOF
		}

		if len(p) == 0 {
			s.mu.Unlock()
			return 0, nil
		}

		wait := s.notify
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		s.mu.Lock()
	}
}

func (s *Stream) info(id string) TransferInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return TransferInfo{
		ID:           id,
		State:        s.stateLocked(),
		BytesWritten: s.written,
		BytesRead:    s.read,
		Buffered:     s.buffered,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

func (s *Stream) stateLocked() State {
	switch {
	case s.consumed:
		return StateConsumed
	case s.err != nil:
		return StateAborted
	case s.closed:
		return StateClosed
	case s.attached:
		return StateDraining
	default:
		return StateOpen
	}
}

func (s *Stream) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// reader is the readable half handed out by Registry.Attach.
type reader struct {
	s         *Stream
	ctx       context.Context
	eofOnce   sync.Once
	closeOnce sync.Once
	onEOF     func()
	onClose   func(consumed bool)
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.s.next(r.ctx, p)
	if err == io.EOF && r.onEOF != nil {
		r.eofOnce.Do(r.onEOF)
	}
	return n, err
}

// Close releases the readable half. Closing before end-of-stream aborts the
// transfer, since nothing else can ever read it.
func (r *reader) Close() error {
	r.closeOnce.Do(func() {
		r.s.mu.Lock()
		consumed := r.s.consumed
		r.s.mu.Unlock()

		if !consumed {
			r.s.abort(ErrDetached)
		}
		if r.onClose != nil {
			r.onClose(consumed)
		}
	})
	return nil
}

var _ io.ReadCloser = (*reader)(nil)
