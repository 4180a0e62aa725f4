package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"convert-web/internal/logging"
)

// Client-side errors.
var (
	// ErrAckTimeout means the worker did not acknowledge a message in time.
	ErrAckTimeout = errors.New("bridge acknowledgment timed out")
	// ErrUploadClosed is returned by Write after Close.
	ErrUploadClosed = errors.New("upload closed")
	// ErrRejected wraps an ErrorStream broadcast from a strict worker.
	ErrRejected = errors.New("worker rejected message")
	// ErrDisconnected means the broadcast subscription ended early.
	ErrDisconnected = errors.New("broadcast subscription ended")
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// MaxInFlight bounds unacknowledged chunks per upload. Zero sends chunks
	// without waiting for their SuccessWrite.
	MaxInFlight int
	// AckTimeout bounds each wait for an acknowledgment.
	AckTimeout time.Duration
}

// DefaultClientOptions returns fire-and-forget chunk delivery with a 30s
// acknowledgment timeout.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MaxInFlight: 0,
		AckTimeout:  30 * time.Second,
	}
}

// Client is the producing side of the bridge.
type Client struct {
	transport Transport
	opts      ClientOptions
}

// NewClient creates a client over transport.
func NewClient(transport Transport, opts ClientOptions) *Client {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultClientOptions().AckTimeout
	}
	return &Client{transport: transport, opts: opts}
}

// Upload is the writable end of one transfer. Each Write becomes one
// WriteChunk message; Close sends CloseStream and waits for SuccessClose.
type Upload struct {
	id     string
	client *Client
	ctx    context.Context
	cancel func()
	events <-chan Message

	mu       sync.Mutex
	pending  map[string]struct{}
	changed  chan struct{}
	closed   bool
	closedOK bool
	err      error
	done     chan struct{}
}

// Create registers transfer id with the worker and waits for SuccessStream.
func (c *Client) Create(ctx context.Context, id string) (*Upload, error) {
	events, cancel, err := c.transport.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(ctx, Message{Action: ActionCreateStream, ID: id}); err != nil {
		cancel()
		return nil, err
	}

	if err := waitFor(ctx, events, c.opts.AckTimeout, func(m Message) (bool, error) {
		switch {
		case m.Action == ActionSuccessStream && m.ID == id:
			return true, nil
		case m.Action == ActionErrorStream && m.ID == id && m.OperationID == "":
			return true, fmt.Errorf("%w: %s", ErrRejected, m.Error)
		}
		return false, nil
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("create transfer %s: %w", id, err)
	}

	u := &Upload{
		id:      id,
		client:  c,
		ctx:     ctx,
		cancel:  cancel,
		events:  events,
		pending: make(map[string]struct{}),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go u.listen()
	return u, nil
}

func waitFor(ctx context.Context, events <-chan Message, timeout time.Duration, match func(Message) (bool, error)) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case m, ok := <-events:
			if !ok {
				return ErrDisconnected
			}
			if done, err := match(m); done {
				return err
			}
		case <-timer.C:
			return ErrAckTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ID returns the transfer id.
func (u *Upload) ID() string {
	return u.id
}

// signal wakes waiters. Caller holds mu.
func (u *Upload) signal() {
	close(u.changed)
	u.changed = make(chan struct{})
}

func (u *Upload) listen() {
	defer close(u.done)

	for m := range u.events {
		u.mu.Lock()
		switch m.Action {
		case ActionSuccessWrite:
			if _, ok := u.pending[m.OperationID]; ok {
				delete(u.pending, m.OperationID)
				u.signal()
			}
		case ActionSuccessClose:
			if m.ID == u.id && u.closed {
				u.closedOK = true
				u.signal()
			}
		case ActionErrorStream:
			if m.ID == u.id {
				delete(u.pending, m.OperationID)
				if u.err == nil {
					u.err = fmt.Errorf("%w: %s", ErrRejected, m.Error)
				}
				u.signal()
			}
		}
		u.mu.Unlock()
	}

	u.mu.Lock()
	if u.err == nil && !u.closedOK {
		u.err = ErrDisconnected
	}
	u.signal()
	u.mu.Unlock()
}

// waitUntil blocks until cond holds (checked under mu) or an error occurs.
func (u *Upload) waitUntil(cond func() bool) error {
	timer := time.NewTimer(u.client.opts.AckTimeout)
	defer timer.Stop()

	for {
		u.mu.Lock()
		if cond() {
			u.mu.Unlock()
			return nil
		}
		if u.err != nil {
			err := u.err
			u.mu.Unlock()
			return err
		}
		changed := u.changed
		u.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return ErrAckTimeout
		case <-u.ctx.Done():
			return u.ctx.Err()
		}
	}
}

// Write sends p as one chunk. With MaxInFlight set it first waits for the
// window to open.
func (u *Upload) Write(p []byte) (int, error) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return 0, ErrUploadClosed
	}
	if u.err != nil {
		err := u.err
		u.mu.Unlock()
		return 0, err
	}
	u.mu.Unlock()

	limit := u.client.opts.MaxInFlight
	if limit > 0 {
		if err := u.waitUntil(func() bool { return len(u.pending) < limit }); err != nil {
			return 0, err
		}
	}

	opID := ksuid.New().String()
	if limit > 0 {
		u.mu.Lock()
		u.pending[opID] = struct{}{}
		u.mu.Unlock()
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	msg := Message{Action: ActionWriteChunk, ID: u.id, OperationID: opID, Chunk: chunk}
	if err := u.client.transport.Send(u.ctx, msg); err != nil {
		u.mu.Lock()
		delete(u.pending, opID)
		u.mu.Unlock()
		return 0, err
	}
	return len(p), nil
}

// Close drains outstanding acknowledgments, closes the transfer and waits
// for SuccessClose. It is safe to call more than once.
func (u *Upload) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	defer func() {
		u.cancel()
		<-u.done
	}()

	if err := u.waitUntil(func() bool { return len(u.pending) == 0 }); err != nil {
		u.markClosed()
		return fmt.Errorf("close transfer %s: %w", u.id, err)
	}

	u.markClosed()
	if err := u.client.transport.Send(u.ctx, Message{Action: ActionCloseStream, ID: u.id}); err != nil {
		return fmt.Errorf("close transfer %s: %w", u.id, err)
	}

	if err := u.waitUntil(func() bool { return u.closedOK }); err != nil {
		return fmt.Errorf("close transfer %s: %w", u.id, err)
	}

	logging.Debug("Transfer %s closed", u.id)
	return nil
}

func (u *Upload) markClosed() {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
}
