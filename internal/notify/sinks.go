package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/events"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

// Publisher is the subset of the NATS client used by NATSSink.
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

// NATSSink publishes each envelope on a subject named after its type.
type NATSSink struct {
	pub Publisher
}

func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(ctx context.Context, env *events.Envelope) error {
	return s.pub.Publish(ctx, env.Type, env)
}

func (s *NATSSink) Close(context.Context) error {
	return s.pub.Close()
}

// WebhookSink POSTs selected envelopes to an HTTP endpoint, typically a
// guardian or care-center integration.
type WebhookSink struct {
	url     string
	headers map[string]string
	types   map[string]bool
	client  *http.Client
}

// NewWebhookSink builds a sink for url. When types is empty every event is
// delivered.
func NewWebhookSink(url string, headers map[string]string, timeout time.Duration, types ...string) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	hdr := make(map[string]string, len(headers))
	for k, v := range headers {
		hdr[k] = v
	}
	var filter map[string]bool
	if len(types) > 0 {
		filter = make(map[string]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}
	return &WebhookSink{
		url:     url,
		headers: hdr,
		types:   filter,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Deliver(ctx context.Context, env *events.Envelope) error {
	if s.types != nil && !s.types[env.Type] {
		return nil
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	backoffs := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range s.headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("post: %w", err)
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("status %d body=%q", resp.StatusCode, truncate(body, 200))
		}

		if attempt < len(backoffs) {
			timer := time.NewTimer(backoffs[attempt])
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (s *WebhookSink) Close(context.Context) error {
	return nil
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

// LogSink writes every envelope to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, env *events.Envelope) error {
	level := zap.InfoLevel
	switch env.Type {
	case events.TypeIntervention, events.TypeHelpRequested:
		level = zap.WarnLevel
	case events.TypeCycleError:
		level = zap.ErrorLevel
	}
	if ce := s.logger.Check(level, "safety event"); ce != nil {
		ce.Write(
			zap.String("type", env.Type),
			zap.String("event_id", env.ID.String()),
			zap.String("user_id", env.UserID),
			zap.String("cycle_id", env.Metadata.CycleID),
		)
	}
	return nil
}

func (s *LogSink) Close(context.Context) error {
	// Sync fails on terminals; nothing useful to report.
	_ = s.logger.Sync()
	return nil
}
