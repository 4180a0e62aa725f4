package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"convert-web/internal/logging"
)

// Transport carries messages to the worker and broadcasts back.
type Transport interface {
	// Send delivers one message to the worker.
	Send(ctx context.Context, msg Message) error
	// Subscribe starts listening to broadcasts. The returned channel is
	// closed after cancel is called or the connection drops.
	Subscribe(ctx context.Context) (<-chan Message, func(), error)
}

// LocalTransport talks to an in-process worker and hub.
type LocalTransport struct {
	Worker *Worker
	Hub    *Hub
}

// Send submits msg to the worker inbox.
func (t *LocalTransport) Send(ctx context.Context, msg Message) error {
	return t.Worker.Submit(ctx, msg)
}

// Subscribe registers on the hub.
func (t *LocalTransport) Subscribe(_ context.Context) (<-chan Message, func(), error) {
	sub := t.Hub.Subscribe()
	return sub.C, sub.Cancel, nil
}

// Paths served by the convert-web server.
const (
	MessagesPath = "/api/bridge/messages"
	EventsPath   = "/api/bridge/events"
)

// HTTPTransport posts messages to a convert-web server and reads broadcasts
// from its server-sent event stream.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport creates a transport for the server at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 0},
	}
}

// Send posts msg and expects 202 Accepted.
func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Action, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, t.BaseURL+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Action, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send %s: unexpected status %s", msg.Action, resp.Status)
	}
	return nil
}

// Subscribe opens the event stream. It returns once the server has
// registered the subscription, so no broadcast sent afterwards is missed.
func (t *HTTPTransport) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.BaseURL+EventsPath, http.NoBody)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.Client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("subscribe: unexpected status %s", resp.Status)
	}

	out := make(chan Message, DefaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(streamCtx, resp.Body, out)
	}()

	return out, cancel, nil
}

// readEvents parses "data:" lines of a server-sent event stream.
func readEvents(ctx context.Context, body io.Reader, out chan<- Message) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
				logging.Warn("Ignoring malformed broadcast event: %v", err)
			} else {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logging.Warn("Broadcast stream ended: %v", err)
	}
}
