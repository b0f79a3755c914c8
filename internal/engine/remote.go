// Package engine drives the remote body-tracking engine: the calls that start
// and stop it, and the local state machine that decides when those calls may
// be made.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Remote is the engine as seen from the operator surface.
type Remote interface {
	// Start asks the engine to begin tracking.
	Start(ctx context.Context) error

	// Stop asks the engine to stop. It must be safe when already stopped.
	Stop(ctx context.Context) error

	// Running probes whether the engine reports itself running.
	Running(ctx context.Context) (bool, error)

	// StreamURL is the live video resource served while running.
	StreamURL() string
}

const (
	defaultCallTimeout = 10 * time.Second

	opStart  = "start"
	opStop   = "stop"
	opStatus = "status"
)

// engineReply is the engine's JSON envelope.
type engineReply struct {
	Success   *bool  `json:"success"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	IsRunning bool   `json:"is_running"`
}

// HTTPRemote talks to the engine's HTTP control endpoints.
type HTTPRemote struct {
	client    *resty.Client
	streamURL string
}

var _ Remote = (*HTTPRemote)(nil)

// HTTPConfig configures an HTTPRemote.
type HTTPConfig struct {
	BaseURL   string
	StreamURL string
	Timeout   time.Duration
}

// NewHTTPRemote creates a client for the engine at cfg.BaseURL. An empty
// StreamURL defaults to BaseURL + "/engine/video_feed".
func NewHTTPRemote(cfg HTTPConfig) *HTTPRemote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StreamURL == "" {
		cfg.StreamURL = base + "/engine/video_feed"
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tryon-orchestrator/1.0")

	return &HTTPRemote{client: client, streamURL: cfg.StreamURL}
}

// Start calls POST /engine/start.
func (r *HTTPRemote) Start(ctx context.Context) error {
	_, err := r.call(ctx, http.MethodPost, "/engine/start", opStart)
	return err
}

// Stop calls POST /engine/stop.
func (r *HTTPRemote) Stop(ctx context.Context) error {
	_, err := r.call(ctx, http.MethodPost, "/engine/stop", opStop)
	return err
}

// Running calls GET /engine/status.
func (r *HTTPRemote) Running(ctx context.Context) (bool, error) {
	reply, err := r.call(ctx, http.MethodGet, "/engine/status", opStatus)
	if err != nil {
		return false, err
	}
	return reply.IsRunning, nil
}

// StreamURL returns the video feed URL.
func (r *HTTPRemote) StreamURL() string {
	return r.streamURL
}

func (r *HTTPRemote) call(ctx context.Context, method, path, op string) (engineReply, error) {
	var reply engineReply

	resp, err := r.client.R().SetContext(ctx).Execute(method, path)
	if err != nil {
		return reply, &UnreachableError{Op: op, Err: err}
	}

	decodeErr := json.Unmarshal(resp.Body(), &reply)
	status := resp.StatusCode()

	if decodeErr != nil || reply.Success == nil {
		switch status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return reply, &UnreachableError{Op: op, Err: fmt.Errorf("gateway returned %d", status)}
		}
		if resp.IsError() {
			return reply, &RejectedError{Op: op, Status: status, Reason: strings.TrimSpace(resp.Status())}
		}
		if decodeErr != nil {
			return reply, &RejectedError{Op: op, Status: status, Reason: "malformed reply"}
		}
		return reply, &RejectedError{Op: op, Status: status, Reason: "reply missing success"}
	}

	if !*reply.Success {
		reason := reply.Error
		if reason == "" {
			reason = reply.Message
		}
		return reply, &RejectedError{Op: op, Status: status, Reason: reason}
	}
	return reply, nil
}
