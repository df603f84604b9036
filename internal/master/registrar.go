// Package master announces the game server to a master server list.
package master

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"voxelstrike/netcore/internal/logging"
)

// Listing is the heartbeat body posted to the master server.
type Listing struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Mode       string `json:"mode"`
	TickRate   int    `json:"tickRate"`
}

// Registrar posts a Listing on a fixed interval. Failures are logged and the
// next heartbeat tries again.
type Registrar struct {
	URL      string
	Interval time.Duration
	Listing  func() Listing

	client *retryablehttp.Client
	logger *logging.Logger
}

// NewRegistrar builds a registrar with bounded retries per heartbeat.
func NewRegistrar(url string, interval time.Duration, listing func() Listing, logger *logging.Logger) *Registrar {
	if logger == nil {
		logger = logging.L()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = leveledLogger{logger: logger.With(logging.String("component", "master"))}
	return &Registrar{URL: strings.TrimSpace(url), Interval: interval, Listing: listing, client: client, logger: logger}
}

// SetRetryWait overrides the backoff bounds.
func (r *Registrar) SetRetryWait(minWait, maxWait time.Duration) {
	r.client.RetryWaitMin = minWait
	r.client.RetryWaitMax = maxWait
}

// Run heartbeats until ctx is cancelled. An empty URL disables registration.
func (r *Registrar) Run(ctx context.Context) {
	if r == nil || r.URL == "" || r.Listing == nil {
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if err := r.Announce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("master registration failed", logging.Error(err), logging.String("url", r.URL))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Announce posts a single heartbeat.
func (r *Registrar) Announce(ctx context.Context) error {
	body, err := json.Marshal(r.Listing())
	if err != nil {
		return fmt.Errorf("encode listing: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("master responded %s", resp.Status)
	}
	return nil
}

// leveledLogger routes retryablehttp diagnostics through zap.
type leveledLogger struct {
	logger *logging.Logger
}

func (l leveledLogger) fields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		fields = append(fields, logging.String(key, fmt.Sprint(keysAndValues[i+1])))
	}
	return fields
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, l.fields(keysAndValues)...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, l.fields(keysAndValues)...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, l.fields(keysAndValues)...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, l.fields(keysAndValues)...)
}
