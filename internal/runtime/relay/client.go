// Package relay connects contexts through a hub process. Every context keeps
// one WebSocket to the hub, which forwards each frame to all other peers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/variant"

	herrors "github.com/drblury/hermes/internal/runtime/errors"
)

// DefaultDialTimeout bounds the WebSocket handshake.
const DefaultDialTimeout = 5 * time.Second

// Variant is a context's connection to the hub. The connection is not
// re-established if the hub goes away; sends fail from then on.
type Variant struct {
	variant.Base

	conn    *websocket.Conn
	writeMu sync.Mutex

	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the hub at url.
func Dial(ctx context.Context, url string, timeout time.Duration, deps variant.Deps) (*Variant, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", url, err)
	}

	v := &Variant{
		Base:    variant.NewBase(variant.NameRelay, deps),
		conn:    conn,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	v.Logger.Info("Connected to relay", logging.LogFields{"url": url})
	go v.readLoop()
	return v, nil
}

func (v *Variant) Send(_ context.Context, topic string, payload envelope.Payload, includeSelf bool) error {
	err := v.write(topic, payload)
	if includeSelf && !errors.Is(err, herrors.ErrClosed) {
		v.DispatchLocal(topic, payload)
	}
	return err
}

func (v *Variant) write(topic string, payload envelope.Payload) error {
	select {
	case <-v.closing:
		return herrors.ErrClosed
	case <-v.done:
		return herrors.ErrClosed
	default:
	}

	frame, err := envelope.MarshalRelay(topic, payload)
	if err != nil {
		return err
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if err := v.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		v.Metrics.Dropped(variant.NameRelay, metrics.ReasonSendFailed)
		return fmt.Errorf("failed to write relay frame: %w", err)
	}
	v.Metrics.Sent(variant.NameRelay)
	return nil
}

func (v *Variant) readLoop() {
	defer close(v.done)
	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			select {
			case <-v.closing:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					v.Logger.Error("Relay connection lost", err, nil)
				} else {
					v.Logger.Info("Relay connection closed", logging.LogFields{"reason": err.Error()})
				}
			}
			return
		}

		env, err := envelope.UnmarshalRelay(data)
		if err != nil {
			v.Drop(metrics.ReasonMalformed, err, nil)
			continue
		}
		v.Receive(env.Topic, env.Payload)
	}
}

// Done is closed once the connection to the hub has ended.
func (v *Variant) Done() <-chan struct{} {
	return v.done
}

// Close sends a close frame and tears the connection down.
func (v *Variant) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.closing)

		v.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		v.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			v.Logger.Debug("Failed to send close frame", logging.LogFields{"error": werr.Error()})
		}

		err = v.conn.Close()
	})
	return err
}
