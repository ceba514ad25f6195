package serverproxy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/domain"
)

// senderLoop is the one dedicated sender worker. It wakes on
// either a new outbound message or the heartbeat deadline, whichever comes
// first, drains the queue in priority order, and emits a heartbeat once the
// deadline has elapsed.
//
// Heartbeat scheduling is drift-free: the next deadline is always
// recomputed as now + ReportInterval after an attempt, never accumulated
// from a previously scheduled time, so slow sends cannot skew the cadence.
func (p *Proxy) senderLoop(ctx context.Context) {
	nextHeartbeat := time.Now().Add(p.cfg.ReportInterval)

	for {
		wait := time.Until(nextHeartbeat)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-p.outbound.Notify:
		case <-time.After(wait):
		}

		if ctx.Err() != nil {
			return
		}

		p.drainOutbound(ctx)

		if !time.Now().Before(nextHeartbeat) {
			p.sendHeartbeat(ctx)
			nextHeartbeat = time.Now().Add(p.cfg.ReportInterval)
		}
	}
}

// drainOutbound pops and sends every currently-resident message in priority
// order. Per-message failures are logged and swallowed — the sender worker
// always proceeds to the next message.
func (p *Proxy) drainOutbound(ctx context.Context) {
	for {
		m, ok := p.outbound.Pop()
		if !ok {
			return
		}
		p.sendMessage(ctx, m)
	}
}

func (p *Proxy) sendMessage(ctx context.Context, m Message) {
	timeout := p.cfg.DefaultTimeout
	if m.Timeout > 0 {
		timeout = time.Duration(m.Timeout) * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := p.client.R().SetContext(reqCtx)
	for k, v := range m.Headers {
		req.SetHeader(k, v)
	}
	for k, v := range m.Query {
		req.SetQueryParam(k, v)
	}

	// Body selection policy: file reference takes precedence over a
	// structured body (mutually exclusive by construction).
	if m.File != nil {
		if _, err := os.Stat(m.File.Path); err != nil {
			err = fmt.Errorf("serverproxy: file %s not found: %w", m.File.Path, err)
			p.logger.Error("send failed", zap.String("message_id", m.ID), zap.Error(err))
			p.resolve(m.ID, Response{Err: err})
			return
		}
		req.SetFile("file", m.File.Path)
	} else if m.Body != nil {
		req.SetBody(m.Body)
	}

	url := fullURL(m.Path, p.cfg.RunnerID)

	resp, err := p.execute(req, m.Verb, url)
	if err != nil {
		p.logger.Warn("send failed", zap.String("message_id", m.ID), zap.String("path", m.Path), zap.Error(err))
		p.resolve(m.ID, Response{Err: err})
		return
	}

	if resp.IsError() {
		err := fmt.Errorf("serverproxy: %s %s returned %d: %s", m.Verb, url, resp.StatusCode(), resp.String())
		p.logger.Warn("send failed", zap.String("message_id", m.ID), zap.Error(err))
		p.resolve(m.ID, Response{Err: err})
		return
	}

	p.resolve(m.ID, Response{Body: resp.Body()})
}

func (p *Proxy) execute(req *resty.Request, verb Verb, url string) (*resty.Response, error) {
	switch verb {
	case VerbGet:
		return req.Get(url)
	case VerbPost:
		return req.Post(url)
	case VerbPut:
		return req.Put(url)
	case VerbPatch:
		return req.Patch(url)
	case VerbDelete:
		return req.Delete(url)
	default:
		return nil, fmt.Errorf("serverproxy: unknown verb %q", verb)
	}
}

// sendHeartbeat reports status=IDLE with a current metrics snapshot. It is
// sent directly rather than queued: the sender worker is the caller, so a
// queued heartbeat would wait on itself. Failures are logged by sendMessage
// and swallowed — the next tick retries.
func (p *Proxy) sendHeartbeat(ctx context.Context) {
	var snapshot domain.SystemMetrics
	if p.metrics != nil {
		snapshot = p.metrics()
	}
	p.sendMessage(ctx, Message{
		ID:   uuid.New().String(),
		Path: "api/v1/runner/heartbeat",
		Verb: VerbPost,
		Body: map[string]any{
			"status":  "idle",
			"metrics": snapshot,
		},
	})
	p.logger.Debug("heartbeat attempted")
}
