package stacks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// processor applies live feed events to the replica, serialized through the
// same gate as the pull/push orchestrators.
type processor struct {
	store Replica
	gate  *syncGate
	debug *DebugLogger

	// onRevoked escalates a session revocation into the auth subsystem.
	onRevoked func(reason string)
	// onLifecycle forwards scan lifecycle events for notification.
	onLifecycle func(Event)
	// onReconnected schedules the out-of-band delta catch-up.
	onReconnected func()
}

// process applies one inbound event. The switch covers every variant;
// adding an Event type means adding a case here.
func (p *processor) process(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case EntityCreated:
		return p.applyRecord(ctx, e.Record)

	case EntityUpdated:
		return p.applyRecord(ctx, e.Record)

	case EntityDeleted:
		// Server deletion is authoritative regardless of local sync state.
		if err := p.gate.Acquire(ctx); err != nil {
			return err
		}
		defer p.gate.Release()
		p.debug.LogEvent("deleted", fmt.Sprintf("%s/%s", e.Collection, e.ID))
		return p.store.DeleteEntity(e.Collection, e.ID)

	case ScanStarted:
		p.debug.LogEvent("scan.started", "")
		if p.onLifecycle != nil {
			p.onLifecycle(e)
		}
		return nil

	case ScanCompleted:
		p.debug.LogEvent("scan.completed", fmt.Sprintf("+%d ~%d -%d", e.Stats.Added, e.Stats.Updated, e.Stats.Removed))
		if p.onLifecycle != nil {
			p.onLifecycle(e)
		}
		return nil

	case UserRevoked:
		p.debug.LogEvent("user.revoked", e.Reason)
		if p.onRevoked != nil {
			p.onRevoked(e.Reason)
		}
		return ErrRevoked

	case Reconnected:
		// Events emitted during the gap are lost; recover via delta catch-up.
		p.debug.LogEvent("reconnected", "scheduling catch-up")
		if p.onReconnected != nil {
			p.onReconnected()
		}
		return nil

	case Heartbeat:
		return nil
	}

	return fmt.Errorf("unhandled event type %T", ev)
}

func (p *processor) applyRecord(ctx context.Context, rec ServerRecord) error {
	if err := p.gate.Acquire(ctx); err != nil {
		return err
	}
	defer p.gate.Release()

	res, err := applyServerRecord(p.store, rec, time.Now().UTC())
	if err != nil {
		return err
	}
	p.debug.LogEvent("apply", fmt.Sprintf("%s/%s resolution=%d", rec.Collection, rec.ID, res))
	return nil
}

// Redial backoff bounds.
const (
	streamBackoffMin = time.Second
	streamBackoffMax = time.Minute
)

// Stream maintains the live server-push connection for the lifetime of the
// process, feeding decoded events into the processor. Redials with capped
// exponential backoff; a successful redial synthesizes a Reconnected event.
type Stream struct {
	serverURL string
	apiKey    string
	deviceID  string
	processor *processor
	debug     *DebugLogger

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// newStream creates a stream; Run starts it.
func newStream(serverURL, apiKey, deviceID string, proc *processor, debug *DebugLogger) *Stream {
	return &Stream{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		apiKey:    apiKey,
		deviceID:  deviceID,
		processor: proc,
		debug:     debug,
	}
}

// Connected reports whether the feed is currently established.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Start launches the stream loop in the background. Idempotent.
func (s *Stream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Stop tears the stream down and waits for the loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// run dials, reads, and redials until ctx is cancelled.
func (s *Stream) run(ctx context.Context) {
	backoff := streamBackoffMin
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.debug.LogError("stream_dial", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > streamBackoffMax {
				backoff = streamBackoffMax
			}
			continue
		}

		backoff = streamBackoffMin
		s.setConnected(true)
		s.debug.LogSync("stream", "connected")

		if !first {
			if err := s.processor.process(ctx, Reconnected{}); err != nil {
				s.debug.LogError("stream_reconnect", err)
			}
		}
		first = false

		err = s.readLoop(ctx, conn)
		s.setConnected(false)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if err == ErrRevoked || ctx.Err() != nil {
			return
		}
		s.debug.LogError("stream_read", err)
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := s.serverURL + "/api/v1/events"
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey)
	if s.deviceID != "" {
		header.Set("X-Stacks-Device-ID", s.deviceID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", wsURL, err)
	}
	return conn, nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := decodeEvent(frame)
		if err != nil {
			// Unknown or malformed events are skipped, not fatal.
			s.debug.LogError("stream_decode", err)
			continue
		}

		if err := s.processor.process(ctx, ev); err != nil {
			if err == ErrRevoked {
				return err
			}
			s.debug.LogError("stream_apply", err)
		}
	}
}
