package serverproxy

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/observer"
)

// fakeConn captures every frame written to it via WriteJSON, for assertion.
type fakeConn struct {
	written []map[string]any
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (f *fakeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.written = append(f.written, m)
	return nil
}
func (f *fakeConn) Close() error { return nil }

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	return New(Config{APIURL: "https://api.example.com", RunnerID: "runner-1", Token: "tok"}, zap.NewNop(), nil)
}

// Scenario 2: observer dispatch success. The handler's return value is the
// reply, merged with response_to — not nested under a wrapper.
func TestDispatch_HandlerSuccess(t *testing.T) {
	p := newTestProxy(t)
	conn := &fakeConn{}

	err := p.Observers().Register("ping", func(ctx context.Context, frame observer.Frame) (json.RawMessage, error) {
		return json.RawMessage(`{"echo":1}`), nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	p.dispatch(context.Background(), conn, observer.Frame{ID: "m1", Type: "ping"})

	if len(conn.written) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(conn.written))
	}
	want := map[string]any{"echo": float64(1), "response_to": "m1"}
	if !reflect.DeepEqual(conn.written[0], want) {
		t.Fatalf("reply = %v, want %v", conn.written[0], want)
	}
}

// A handler that returns nothing gets a synthetic success frame.
func TestDispatch_NilResultRepliesSuccess(t *testing.T) {
	p := newTestProxy(t)
	conn := &fakeConn{}

	_ = p.Observers().Register("ack", func(ctx context.Context, frame observer.Frame) (json.RawMessage, error) {
		return nil, nil
	})

	p.dispatch(context.Background(), conn, observer.Frame{ID: "m5", Type: "ack"})

	if len(conn.written) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(conn.written))
	}
	reply := conn.written[0]
	if reply["type"] != "success" || reply["response_to"] != "m5" {
		t.Fatalf("reply = %v, want type=success response_to=m5", reply)
	}
}

// Scenario 3: no handler registered for an unknown type.
func TestDispatch_UnknownTypeRepliesError(t *testing.T) {
	p := newTestProxy(t)
	conn := &fakeConn{}

	p.dispatch(context.Background(), conn, observer.Frame{ID: "m2", Type: "foo"})

	if len(conn.written) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(conn.written))
	}
	reply := conn.written[0]
	if reply["type"] != "error" || reply["response_to"] != "m2" {
		t.Fatalf("reply = %v, want type=error response_to=m2", reply)
	}
	msg, ok := reply["data"].(string)
	if !ok || !strings.Contains(msg, "foo") {
		t.Fatalf("reply data %v does not mention the unknown type", reply["data"])
	}
}

func TestDispatch_HandlerErrorRepliesError(t *testing.T) {
	p := newTestProxy(t)
	conn := &fakeConn{}

	_ = p.Observers().Register("boom", func(ctx context.Context, frame observer.Frame) (json.RawMessage, error) {
		return nil, errTestHandler
	})

	p.dispatch(context.Background(), conn, observer.Frame{ID: "m3", Type: "boom"})

	reply := conn.written[0]
	if reply["type"] != "error" || reply["response_to"] != "m3" {
		t.Fatalf("reply = %v, want type=error response_to=m3", reply)
	}
}

func TestDispatch_MissingIDDropsSilently(t *testing.T) {
	p := newTestProxy(t)
	conn := &fakeConn{}

	p.dispatch(context.Background(), conn, observer.Frame{Type: "ping"})

	if len(conn.written) != 0 {
		t.Fatalf("expected no reply for frame missing id, got %d", len(conn.written))
	}
}

func TestDispatch_MissingTypeRepliesError(t *testing.T) {
	p := newTestProxy(t)
	conn := &fakeConn{}

	p.dispatch(context.Background(), conn, observer.Frame{ID: "m4"})

	if len(conn.written) != 1 || conn.written[0]["type"] != "error" {
		t.Fatalf("expected a single error reply, got %+v", conn.written)
	}
}

var errTestHandler = &testHandlerErr{}

type testHandlerErr struct{}

func (e *testHandlerErr) Error() string { return "handler exploded" }
