// Package faceapi is a client for a remote face detection and verification service
// (Azure Face v1.0 shaped). Detection and 1:1 verification are always available. The
// person group operations can be withdrawn by the service; the first 403 on any of them
// disables the whole group for the lifetime of the client.
package faceapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
	recognitionModel      = "recognition_04"
	detectionModel        = "detection_03"
	apiPrefix             = "face/v1.0"
)

// Config holds the connection settings of a Client.
type Config struct {
	Endpoint       string
	Key            string
	GroupID        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// DetectionOnly starts the client with the person group operations disabled.
	DetectionOnly bool
}

// Client talks to the remote face service.
type Client struct {
	baseURL          *url.URL
	key              string
	groupID          string
	httpClient       *http.Client
	supportsIdentity atomic.Bool
	log              *zap.Logger
	metrics          *metrics.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

// WithMetrics records every call in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the timeout-configured HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for cfg.Endpoint.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("face API endpoint is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("face API key is required")
	}
	parsed, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid face API endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("face API endpoint must use http or https")
	}

	groupID := facematch.Slugify(cfg.GroupID)
	if groupID == "" {
		groupID = constants.DefaultPersonGroupID
	}

	c := &Client{
		baseURL:    parsed,
		key:        cfg.Key,
		groupID:    groupID,
		httpClient: newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		log:        zap.NewNop(),
	}
	c.supportsIdentity.Store(!cfg.DetectionOnly)

	for _, opt := range opts {
		opt(c)
	}
	if cfg.DetectionOnly {
		c.metrics.SetDegraded()
	}
	return c, nil
}

// newHTTPClient bounds connection setup by connect and waiting for the response by read.
func newHTTPClient(connect, read time.Duration) *http.Client {
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	if read <= 0 {
		read = defaultReadTimeout
	}
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
	}
	return &http.Client{Transport: transport, Timeout: connect + read}
}

// GroupID returns the person group used by the identify operations.
func (c *Client) GroupID() string {
	return c.groupID
}

// SupportsIdentity reports whether the person group operations are still enabled.
func (c *Client) SupportsIdentity() bool {
	return c.supportsIdentity.Load()
}

// degrade disables the person group operations. Only the first caller logs.
func (c *Client) degrade(operation string) {
	if c.supportsIdentity.CompareAndSwap(true, false) {
		c.log.Warn("face API refused identify capability, continuing in detection-only mode",
			zap.String("operation", operation))
		c.metrics.SetDegraded()
	}
}

// resolveURL joins path segments onto the endpoint and attaches query.
func (c *Client) resolveURL(query url.Values, pathSegments ...string) string {
	u := c.baseURL.JoinPath(append([]string{apiPrefix}, pathSegments...)...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
