// Package serverproxy is the bidirectional, concurrent bridge to the
// control plane: an outbound priority message pipeline with
// request/response correlation and periodic heartbeats, plus a resilient
// persistent-connection listener with observer dispatch.
//
// The outbound side is built on resty (github.com/go-resty/resty/v2): every
// typed sub-client shares one authenticated client configuration. The
// inbound side is a gorilla/websocket stream of JSON frames.
package serverproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/domain"
	"github.com/fyn-tech/fyn-runner/internal/observer"
	"github.com/fyn-tech/fyn-runner/internal/queue"
)

// Config holds everything the proxy needs to talk to the control plane.
type Config struct {
	// APIURL is the https base URL of the control plane, e.g.
	// "https://api.fyn-tech.com".
	APIURL string
	// APIPort is appended to the host when dialing the websocket stream.
	APIPort        int
	RunnerID       string
	Token          string
	ReportInterval time.Duration
	// DefaultTimeout applies to any outbound Message that does not set its
	// own Timeout.
	DefaultTimeout time.Duration
}

// MetricsCollector supplies the host resource snapshot attached to each
// heartbeat.
type MetricsCollector func() domain.SystemMetrics

// Proxy is the Server Proxy: it owns the outbound message queue, the
// response future table, the observer registry, and the persistent
// streaming connection.
type Proxy struct {
	cfg    Config
	logger *zap.Logger
	client *resty.Client

	outbound *queue.Queue[Message]

	futuresMu sync.Mutex
	futures   map[string]chan Response

	observers *observer.Registry
	metrics   MetricsCollector

	connMu sync.Mutex
	conn   wsConn // nil when disconnected

	runningMu sync.Mutex
	running   bool
}

// Response is what a PushWithResponse future resolves with.
type Response struct {
	Body []byte
	Err  error
}

// New creates a Proxy. Call Run to start the sender and receiver workers.
func New(cfg Config, logger *zap.Logger, metrics MetricsCollector) *Proxy {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.APIURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Token "+cfg.Token).
		SetHeader("id", cfg.RunnerID).
		SetHeader("token", cfg.Token)

	return &Proxy{
		cfg:       cfg,
		logger:    logger.Named("serverproxy"),
		client:    client,
		outbound:  queue.New(Message.less),
		futures:   make(map[string]chan Response),
		observers: observer.New(),
		metrics:   metrics,
	}
}

// Observers exposes the registry so callers (job manager, executor) can
// register handlers for server-initiated frame types. Registration is safe
// while the receiver worker is live; a frame arriving before its handler is
// installed gets an error reply and the server retries.
func (p *Proxy) Observers() *observer.Registry { return p.observers }

// Push enqueues m for delivery. Non-blocking.
func (p *Proxy) Push(m Message) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	p.outbound.Push(m)
}

// PushWithResponse enqueues m and returns the raw response body once the
// server replies, or an error on transport/HTTP failure; decoding the body
// is left to the caller (the typed sub-clients in api.go). The
// response-future table entry is removed exactly once, regardless of
// outcome.
func (p *Proxy) PushWithResponse(ctx context.Context, m Message) ([]byte, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	ch := make(chan Response, 1)
	p.futuresMu.Lock()
	p.futures[m.ID] = ch
	p.futuresMu.Unlock()

	p.outbound.Push(m)

	select {
	case resp := <-ch:
		return resp.Body, resp.Err
	case <-ctx.Done():
		p.futuresMu.Lock()
		delete(p.futures, m.ID)
		p.futuresMu.Unlock()
		return nil, ctx.Err()
	}
}

// resolve completes and removes the future for id, if one is registered.
// Safe to call at most meaningfully once per id — a second call is a no-op
// since the entry is already gone.
func (p *Proxy) resolve(id string, resp Response) {
	p.futuresMu.Lock()
	ch, ok := p.futures[id]
	if ok {
		delete(p.futures, id)
	}
	p.futuresMu.Unlock()

	if ok {
		ch <- resp
	}
}

// Run starts the sender and receiver workers. It blocks until ctx is
// cancelled, then best-effort reports this runner offline.
func (p *Proxy) Run(ctx context.Context) {
	p.runningMu.Lock()
	p.running = true
	p.runningMu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.senderLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.receiverLoop(ctx)
	}()

	<-ctx.Done()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()

	p.reportOffline()
	wg.Wait()
}

func (p *Proxy) isRunning() bool {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	return p.running
}

// reportOffline is the best-effort terminal status notification — failure
// here must never block shutdown. It sends directly: the sender worker has
// already observed the cancelled context by the time this runs, so a queued
// message would never drain.
func (p *Proxy) reportOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DefaultTimeout)
	defer cancel()

	p.sendMessage(ctx, Message{
		ID:   uuid.New().String(),
		Path: "api/v1/runner",
		Verb: VerbPatch,
		Body: map[string]any{"status": "offline"},
	})
}

func fullURL(path, runnerID string) string {
	return fmt.Sprintf("%s/%s", path, runnerID)
}
