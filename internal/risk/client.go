package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/signals"
	"github.com/terminal-bench/safetywatch/pkg/circuit"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

const (
	// MaxTimeout is the hard upper bound on one remote scoring call.
	MaxTimeout = 10 * time.Second
	// DefaultRemoteConfidence applies when the scorer omits confidence.
	DefaultRemoteConfidence = 0.8

	maxResponseBytes = 1 << 20
)

var (
	ErrMissingEndpoint   = errors.New("risk: scorer endpoint is required")
	ErrMalformedResponse = errors.New("risk: malformed scorer response")
	ErrRemoteFallback    = errors.New("risk: scorer reported its own fallback")
)

var (
	levelMin = decimal.NewFromInt(MinLevel)
	levelMax = decimal.NewFromInt(MaxLevel)
)

// ClientConfig configures the remote scorer client.
type ClientConfig struct {
	Endpoint   string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    *circuit.Breaker
	Logger     *zap.Logger
	Now        func() time.Time
}

// Client scores snapshots with the remote service and falls back to the
// local table whenever the service cannot give a usable answer.
type Client struct {
	endpoint string
	userID   string
	timeout  time.Duration
	http     *http.Client
	breaker  *circuit.Breaker
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient validates the endpoint and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("risk: invalid scorer endpoint %q", cfg.Endpoint)
	}

	timeout := cfg.Timeout
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuit.NewBreaker(circuit.Config{Name: "risk-scorer"})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	userID := cfg.UserID
	if userID == "" {
		userID = "anonymous"
	}

	return &Client{
		endpoint: cfg.Endpoint,
		userID:   userID,
		timeout:  timeout,
		http:     httpClient,
		breaker:  breaker,
		logger:   logging.OrNop(cfg.Logger),
		now:      now,
	}, nil
}

// Score returns the remote score when available and the local fallback
// otherwise. It never fails.
func (c *Client) Score(ctx context.Context, snap signals.Snapshot, history []Result) Result {
	var res Result
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.remote(ctx, snap, history)
		return err
	})
	if err != nil {
		c.logger.Warn("remote scorer unavailable, using fallback",
			zap.Error(err),
			zap.String("breaker", c.breaker.State().String()),
		)
		return Fallback(snap)
	}
	return res
}

type usagePayload struct {
	ScreenTime   int       `json:"screenTime"`
	AppOpenCount int       `json:"appOpenCount"`
	LastActivity time.Time `json:"lastActivity"`
}

type locationPayload struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type historyPayload struct {
	RiskLevel  int       `json:"riskLevel"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type scoreRequest struct {
	UserID      string           `json:"userId"`
	AppUsage    usagePayload     `json:"appUsage"`
	Location    *locationPayload `json:"location,omitempty"`
	LastCheckin *time.Time       `json:"lastCheckin,omitempty"`
	UserHistory []historyPayload `json:"userHistory,omitempty"`
}

type analysisPayload struct {
	RiskLevel       json.RawMessage `json:"risk_level"`
	Confidence      json.RawMessage `json:"confidence"`
	Recommendations []string        `json:"recommendations"`
	RiskFactors     []string        `json:"risk_factors"`
	Timestamp       string          `json:"timestamp"`
	ModelVersion    string          `json:"model_version"`
}

// proxyEnvelope is the shape returned by the backend proxy in front of the
// scoring service.
type proxyEnvelope struct {
	Analysis *analysisPayload `json:"analysis"`
	Fallback bool             `json:"fallback"`
}

func (c *Client) buildRequest(snap signals.Snapshot, history []Result) scoreRequest {
	lastActivity := snap.LastActivity
	if lastActivity.IsZero() {
		lastActivity = snap.CapturedAt
	}
	req := scoreRequest{
		UserID: c.userID,
		AppUsage: usagePayload{
			ScreenTime:   snap.ScreenTimeMinutes,
			AppOpenCount: snap.AppOpenCount,
			LastActivity: lastActivity,
		},
		LastCheckin: snap.LastCheckIn,
	}
	if loc := snap.Location; loc != nil {
		req.Location = &locationPayload{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.Accuracy,
			Timestamp: loc.CapturedAt,
		}
	}
	for _, h := range history {
		req.UserHistory = append(req.UserHistory, historyPayload{
			RiskLevel:  h.RiskLevel,
			Confidence: h.Confidence,
			Timestamp:  h.ComputedAt,
		})
	}
	return req
}

func (c *Client) remote(ctx context.Context, snap signals.Snapshot, history []Result) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(c.buildRequest(snap, history))
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	return c.parse(raw)
}

func (c *Client) parse(raw []byte) (Result, error) {
	var env proxyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	payload := env.Analysis
	if payload == nil {
		var bare analysisPayload
		if err := json.Unmarshal(raw, &bare); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		payload = &bare
	} else if env.Fallback {
		return Result{}, ErrRemoteFallback
	}

	level, err := coerceLevel(payload.RiskLevel)
	if err != nil {
		return Result{}, err
	}

	confidence := DefaultRemoteConfidence
	if len(payload.Confidence) > 0 && string(payload.Confidence) != "null" {
		d, err := parseNumber(payload.Confidence)
		if err != nil {
			return Result{}, fmt.Errorf("%w: confidence: %v", ErrMalformedResponse, err)
		}
		confidence = clampUnit(d.InexactFloat64())
	}

	factors := nonEmpty(payload.RiskFactors)
	if len(factors) == 0 {
		factors = []string{FactorNoneDetected}
	}
	recs := nonEmpty(payload.Recommendations)
	if len(recs) == 0 {
		recs = Recommendations(level)
	}

	return Result{
		RiskLevel:       level,
		Confidence:      confidence,
		RiskFactors:     factors,
		Recommendations: recs,
		Source:          SourceRemote,
		ModelVersion:    payload.ModelVersion,
		ComputedAt:      c.parseTimestamp(payload.Timestamp),
	}, nil
}

// coerceLevel accepts a JSON number or numeric string, rounds half away
// from zero and clamps into the level range.
func coerceLevel(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: risk_level missing", ErrMalformedResponse)
	}
	d, err := parseNumber(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: risk_level: %v", ErrMalformedResponse, err)
	}
	d = d.Round(0)
	switch {
	case d.LessThan(levelMin):
		return MinLevel, nil
	case d.GreaterThan(levelMax):
		return MaxLevel, nil
	}
	return int(d.IntPart()), nil
}

func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return decimal.Decimal{}, err
		}
		text = unquoted
	}
	return decimal.NewFromString(text)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var remoteTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func (c *Client) parseTimestamp(s string) time.Time {
	for _, layout := range remoteTimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return c.now()
}
