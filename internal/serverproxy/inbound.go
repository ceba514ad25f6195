package serverproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/observer"
)

// reconnectDelay is how long the receiver worker sleeps after a dropped
// connection before retrying.
const reconnectDelay = 5 * time.Second

// wsConn is the minimal surface of *websocket.Conn the receiver loop needs,
// so tests can substitute a fake connection.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// receiverLoop maintains the persistent streaming connection. On disconnect
// it sleeps reconnectDelay and retries indefinitely while the proxy is
// running.
func (p *Proxy) receiverLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || !p.isRunning() {
			return
		}

		conn, err := p.dial(ctx)
		if err != nil {
			p.logger.Warn("inbound stream dial failed, retrying", zap.Error(err), zap.Duration("delay", reconnectDelay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		p.connMu.Lock()
		p.conn = conn
		p.connMu.Unlock()

		p.readFrames(ctx, conn)

		p.connMu.Lock()
		p.conn = nil
		p.connMu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (p *Proxy) dial(ctx context.Context) (wsConn, error) {
	u, err := streamURL(p.cfg.APIURL, p.cfg.APIPort, p.cfg.RunnerID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("token", p.cfg.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("serverproxy: websocket dial failed: %w", err)
	}
	return conn, nil
}

// streamURL upgrades the https API base URL to wss and appends the runner
// manager stream path.
func streamURL(apiURL string, apiPort int, runnerID string) (string, error) {
	base, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("serverproxy: invalid api_url: %w", err)
	}
	scheme := "wss"
	if base.Scheme == "http" {
		scheme = "ws"
	}
	host := base.Hostname()
	if apiPort != 0 {
		host = fmt.Sprintf("%s:%d", host, apiPort)
	}
	return fmt.Sprintf("%s://%s/ws/runner_manager/%s", scheme, host, runnerID), nil
}

// readFrames reads frames from conn until it errors or ctx is cancelled.
func (p *Proxy) readFrames(ctx context.Context, conn wsConn) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			p.logger.Warn("inbound stream read failed", zap.Error(err))
			return
		}

		var frame observer.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.logger.Warn("failed to parse inbound frame, dropping", zap.Error(err))
			continue
		}

		p.dispatch(ctx, conn, frame)
	}
}

// dispatch handles one inbound frame: look up its type, invoke the
// handler, and emit exactly one reply frame carrying response_to.
func (p *Proxy) dispatch(ctx context.Context, conn wsConn, frame observer.Frame) {
	if frame.ID == "" {
		// No recipient to reply to — log and drop silently.
		p.logger.Warn("inbound frame missing id, dropping")
		return
	}
	if frame.Type == "" {
		p.reply(conn, frame.ID, observer.Frame{
			Type:       "error",
			ResponseTo: frame.ID,
			Data:       jsonString("inbound frame missing type"),
		})
		return
	}

	handler, ok := p.observers.Lookup(frame.Type)
	if !ok {
		p.reply(conn, frame.ID, observer.Frame{
			Type:       "error",
			ResponseTo: frame.ID,
			Data:       jsonString(fmt.Sprintf("no handler registered for type %q", frame.Type)),
		})
		return
	}

	data, err := handler(ctx, frame)
	if err != nil {
		p.logger.Error("observer handler failed", zap.String("type", frame.Type), zap.Error(err))
		p.reply(conn, frame.ID, observer.Frame{
			Type:       "error",
			ResponseTo: frame.ID,
			Data:       jsonString(err.Error()),
		})
		return
	}

	if data == nil {
		p.reply(conn, frame.ID, observer.Frame{Type: "success", ResponseTo: frame.ID})
		return
	}

	// The handler's return value is the reply, merged with response_to. A
	// non-object payload cannot carry the merged key, so it is nested under
	// data instead.
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		p.reply(conn, frame.ID, observer.Frame{Type: "success", ResponseTo: frame.ID, Data: data})
		return
	}
	payload["response_to"] = frame.ID
	p.reply(conn, frame.ID, payload)
}

// reply sends a reply frame. Replies are emitted only when the connection is
// currently open — the receiver worker is the sole writer of this
// connection, so all writes are serialized through one goroutine.
func (p *Proxy) reply(conn wsConn, responseTo string, v any) {
	if conn == nil {
		p.logger.Warn("dropping reply, connection is closed", zap.String("response_to", responseTo))
		return
	}
	if err := conn.WriteJSON(v); err != nil {
		p.logger.Warn("failed to write reply frame", zap.String("response_to", responseTo), zap.Error(err))
	}
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
