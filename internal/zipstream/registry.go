package zipstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"convert-web/internal/logging"
	"convert-web/internal/metrics"
)

// Sentinel errors returned by the registry and surfaced by readers.
var (
	// ErrNotFound means no transfer is registered under the id.
	ErrNotFound = errors.New("transfer not found")

	// ErrAlreadyAttached means the readable half was already handed out.
	ErrAlreadyAttached = errors.New("transfer already attached")

	// ErrClosed is returned when writing to a transfer whose writer is closed.
	ErrClosed = errors.New("transfer closed")

	// ErrOrphaned aborts a transfer replaced by a second Create with the same id.
	ErrOrphaned = errors.New("transfer replaced by a newer stream")

	// ErrExpired aborts a transfer removed by Sweep.
	ErrExpired = errors.New("transfer expired")

	// ErrDetached aborts a transfer whose reader went away before end-of-stream.
	ErrDetached = errors.New("transfer reader detached")
)

// State is the lifecycle position of a transfer.
type State string

// Transfer states. Pending exists only on the producing side, before Create.
const (
	StatePending  State = "pending"
	StateOpen     State = "open"
	StateDraining State = "draining"
	StateClosed   State = "closed"
	StateConsumed State = "consumed"
	StateAborted  State = "aborted"
)

// TransferInfo is a point-in-time snapshot of one registry entry.
type TransferInfo struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	BytesWritten int64     `json:"bytesWritten"`
	BytesRead    int64     `json:"bytesRead"`
	Buffered     int64     `json:"buffered"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Options configures a Registry.
type Options struct {
	// MaxBufferedBytes caps unread bytes per transfer. Writes block while the
	// cap is reached (0 = unbounded).
	MaxBufferedBytes int64
}

// Registry maps transfer ids to streams for the lifetime of the server.
// Entries leave the table when their reader reaches end-of-stream, when the
// reader detaches early, or when Sweep expires them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Stream
	opts    Options
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		entries: make(map[string]*Stream),
		opts:    opts,
	}
}

// Create allocates a stream under id. A second Create with the same id
// replaces the first; the replaced stream is aborted with ErrOrphaned so a
// reader attached to it terminates.
func (r *Registry) Create(id string) {
	s := newStream(r.opts.MaxBufferedBytes)

	r.mu.Lock()
	prev := r.entries[id]
	r.entries[id] = s
	r.mu.Unlock()

	metrics.TransfersTotal.WithLabelValues("created").Inc()

	if prev != nil {
		logging.Warn("Transfer %s created twice, previous stream orphaned", id)
		prev.abort(ErrOrphaned)
		metrics.TransfersTotal.WithLabelValues("orphaned").Inc()
	}
}

func (r *Registry) lookup(id string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Write appends chunk to the transfer. It reports false, with no error, when
// id is unknown. Chunk order is the order of Write calls.
func (r *Registry) Write(ctx context.Context, id string, chunk []byte) (bool, error) {
	s := r.lookup(id)
	if s == nil {
		return false, nil
	}
	if err := s.write(ctx, chunk); err != nil {
		return true, fmt.Errorf("write to transfer %s: %w", id, err)
	}
	return true, nil
}

// Close closes the writer of the transfer. It reports whether id was known;
// closing twice is a no-op.
func (r *Registry) Close(id string) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	if s.close() {
		metrics.TransfersTotal.WithLabelValues("closed").Inc()
	}
	return true
}

// Attach hands out the readable half of a transfer. The entry stays in the
// registry until the reader hits end-of-stream or is closed early. Reads
// block until data arrives, the writer closes, or ctx ends.
func (r *Registry) Attach(ctx context.Context, id string) (io.ReadCloser, error) {
	s := r.lookup(id)
	if s == nil {
		return nil, ErrNotFound
	}
	if !s.attach() {
		return nil, ErrAlreadyAttached
	}

	return &reader{
		s:     s,
		ctx:   ctx,
		onEOF: func() { r.remove(id, s, "consumed") },
		onClose: func(consumed bool) {
			if !consumed {
				r.remove(id, s, "detached")
			}
		},
	}, nil
}

// remove drops the entry for id if it still points at s.
func (r *Registry) remove(id string, s *Stream, event string) {
	r.mu.Lock()
	current, ok := r.entries[id]
	if ok && current == s {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok && current == s {
		logging.Debug("Transfer %s removed (%s)", id, event)
		metrics.TransfersTotal.WithLabelValues(event).Inc()
	}
}

// Get returns a snapshot of one transfer.
func (r *Registry) Get(id string) (TransferInfo, bool) {
	s := r.lookup(id)
	if s == nil {
		return TransferInfo{}, false
	}
	return s.info(id), true
}

// List returns snapshots of all transfers, oldest first.
func (r *Registry) List() []TransferInfo {
	r.mu.RLock()
	infos := make([]TransferInfo, 0, len(r.entries))
	for id, s := range r.entries {
		infos = append(infos, s.info(id))
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of registered transfers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns the number of transfers per state and the total unread bytes.
func (r *Registry) Stats() (map[string]int, int64) {
	byState := make(map[string]int)
	var buffered int64
	for _, info := range r.List() {
		byState[string(info.State)]++
		buffered += info.Buffered
	}
	return byState, buffered
}

// Sweep aborts and removes transfers with no activity for longer than
// maxIdle, returning how many were removed. A maxIdle of zero disables it.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var expired []*Stream
	for id, s := range r.entries {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(r.entries, id)
			logging.Info("Transfer %s expired after %v idle", id, maxIdle)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.abort(ErrExpired)
		metrics.TransfersTotal.WithLabelValues("expired").Inc()
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(maxIdle); n > 0 {
				logging.Info("Swept %d idle transfers", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
