package bridge

import (
	"context"
	"errors"
	"sync"

	"convert-web/internal/logging"
	"convert-web/internal/metrics"
	"convert-web/internal/zipstream"
)

// ErrStopped is returned by Submit once the worker loop has exited.
var ErrStopped = errors.New("bridge worker stopped")

// DefaultQueueSize is the inbox length used when WorkerOptions.QueueSize is zero.
const DefaultQueueSize = 256

// Pauser lets the worker hold chunk intake under memory pressure.
type Pauser interface {
	WaitIfPaused(ctx context.Context) bool
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Strict broadcasts ErrorStream for unknown ids and failed writes instead
	// of acknowledging them as if they succeeded.
	Strict bool
	// QueueSize is the inbox length.
	QueueSize int
	// Pauser, when set, is consulted before each chunk is written.
	Pauser Pauser
}

// Worker applies bridge messages to the registry and broadcasts the
// acknowledgments. Messages for one transfer id are applied one at a time in
// arrival order; a transfer whose buffer is full only holds up its own lane.
type Worker struct {
	registry *zipstream.Registry
	hub      *Hub
	opts     WorkerOptions
	inbox    chan Message
	done     chan struct{}

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// lane is the pending work of one transfer id. It exists exactly while a
// goroutine is draining it.
type lane struct {
	queue []Message
}

// NewWorker creates a worker. Call Run to start processing.
func NewWorker(registry *zipstream.Registry, hub *Hub, opts WorkerOptions) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Worker{
		registry: registry,
		hub:      hub,
		opts:     opts,
		inbox:    make(chan Message, opts.QueueSize),
		done:     make(chan struct{}),
		lanes:    make(map[string]*lane),
	}
}

// Submit queues msg for processing. It blocks while the inbox is full.
func (w *Worker) Submit(ctx context.Context, msg Message) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}

	select {
	case w.inbox <- msg:
		metrics.BridgeQueueDepth.Set(float64(len(w.inbox)))
		return nil
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes messages until ctx ends. It returns once every lane has
// stopped.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer w.wg.Wait()
	logging.Info("Bridge worker started (strict=%v)", w.opts.Strict)

	for {
		select {
		case msg := <-w.inbox:
			metrics.BridgeQueueDepth.Set(float64(len(w.inbox)))
			w.dispatch(ctx, msg)
		case <-ctx.Done():
			logging.Info("Bridge worker stopped")
			return
		}
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// dispatch appends msg to the lane of its transfer, starting the lane if it
// is idle. The memory pause applies here, so it holds every transfer.
func (w *Worker) dispatch(ctx context.Context, msg Message) {
	switch msg.Action {
	case ActionCreateStream, ActionWriteChunk, ActionCloseStream:
	default:
		logging.Warn("Ignoring bridge message with unknown action %q", msg.Action)
		w.record("unknown", "error")
		return
	}

	if msg.Action == ActionWriteChunk && w.opts.Pauser != nil && !w.opts.Pauser.WaitIfPaused(ctx) {
		logging.Warn("Dropping chunk %s for %s: worker stopping", msg.OperationID, msg.ID)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	l, running := w.lanes[msg.ID]
	if !running {
		l = &lane{}
		w.lanes[msg.ID] = l
	}
	l.queue = append(l.queue, msg)
	if !running {
		w.wg.Add(1)
		go w.drain(ctx, msg.ID, l)
	}
}

// drain applies the messages of one lane in order and removes the lane once
// its queue is empty.
func (w *Worker) drain(ctx context.Context, id string, l *lane) {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		if len(l.queue) == 0 || ctx.Err() != nil {
			dropped := len(l.queue)
			delete(w.lanes, id)
			w.mu.Unlock()
			if dropped > 0 {
				logging.Warn("Dropping %d queued messages for %s: worker stopping", dropped, id)
			}
			return
		}
		msg := l.queue[0]
		l.queue[0] = Message{}
		l.queue = l.queue[1:]
		w.mu.Unlock()

		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) {
	switch msg.Action {
	case ActionCreateStream:
		w.registry.Create(msg.ID)
		logging.Debug("Transfer %s created", msg.ID)
		w.record(msg.Action, "ok")
		w.hub.Publish(Message{Action: ActionSuccessStream, ID: msg.ID})

	case ActionWriteChunk:
		w.handleWrite(ctx, msg)

	case ActionCloseStream:
		if !w.registry.Close(msg.ID) {
			w.record(msg.Action, "unknown_id")
			if w.opts.Strict {
				w.fail(msg, zipstream.ErrNotFound)
				return
			}
			logging.Debug("CloseStream for unknown transfer %s acknowledged", msg.ID)
		} else {
			w.record(msg.Action, "ok")
		}
		w.hub.Publish(Message{Action: ActionSuccessClose, ID: msg.ID})
	}
}

func (w *Worker) handleWrite(ctx context.Context, msg Message) {
	found, err := w.registry.Write(ctx, msg.ID, msg.Chunk)
	switch {
	case !found:
		w.record(msg.Action, "unknown_id")
		if w.opts.Strict {
			w.fail(msg, zipstream.ErrNotFound)
			return
		}
		logging.Debug("WriteChunk %s for unknown transfer %s acknowledged", msg.OperationID, msg.ID)
	case err != nil:
		w.record(msg.Action, "error")
		logging.Warn("WriteChunk %s failed: %v", msg.OperationID, err)
		if w.opts.Strict {
			w.fail(msg, err)
			return
		}
	default:
		w.record(msg.Action, "ok")
	}

	w.hub.Publish(Message{Action: ActionSuccessWrite, OperationID: msg.OperationID})
}

func (w *Worker) fail(msg Message, err error) {
	w.hub.Publish(Message{
		Action:      ActionErrorStream,
		ID:          msg.ID,
		OperationID: msg.OperationID,
		Error:       err.Error(),
	})
}

func (w *Worker) record(action, outcome string) {
	metrics.BridgeMessagesTotal.WithLabelValues(action, outcome).Inc()
}
