// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/outbox/lib/clock"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/netutil"
	"github.com/bureau-foundation/outbox/lib/version"
)

// Client sends one batch of records in one call. Send blocks until the
// collector answers or ctx is done.
type Client interface {
	Send(ctx context.Context, credentials Credentials, records []*logrecord.Record) error
}

// Variant selects the wire format.
type Variant string

const (
	VariantContainer Variant = "container"
	VariantNDJSON    Variant = "ndjson"
)

// DefaultGzipThreshold is the body size at which requests are
// compressed.
const DefaultGzipThreshold = 1400

// Header names.
const (
	headerInstallID     = "Install-ID"
	headerAppSecret     = "App-Secret"
	headerAPIKey        = "apikey"
	headerClientVersion = "Client-Version"
	headerUploadTime    = "Upload-Time"
	headerRetryAfterMs  = "x-ms-retry-after-ms"
)

// Config holds the parameters for an HTTPClient.
type Config struct {
	// Endpoint is the collector base URL. Required.
	Endpoint string

	// Variant defaults to VariantContainer.
	Variant Variant

	// HTTPClient defaults to a client with a 60s timeout. The
	// transport is the host's concern.
	HTTPClient *http.Client

	// GzipThreshold defaults to DefaultGzipThreshold. Negative
	// disables compression.
	GzipThreshold int

	// Clock stamps the Upload-Time header. Required.
	Clock clock.Clock

	// Logger receives per-request debug lines with credentials masked.
	// Required.
	Logger *slog.Logger
}

// HTTPClient is the Client for both wire variants.
type HTTPClient struct {
	url           string
	variant       Variant
	http          *http.Client
	gzipThreshold int
	clock         clock.Clock
	logger        *slog.Logger
}

// New validates cfg and returns a client.
func New(cfg Config) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ingestion: Endpoint is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("ingestion: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("ingestion: Logger is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ingestion: invalid endpoint %q", cfg.Endpoint)
	}

	variant := cfg.Variant
	if variant == "" {
		variant = VariantContainer
	}
	target := *base
	switch variant {
	case VariantContainer:
		target.Path = strings.TrimSuffix(target.Path, "/") + "/logs"
		target.RawQuery = "api-version=1.0.0"
	case VariantNDJSON:
	default:
		return nil, fmt.Errorf("ingestion: unknown variant %q", variant)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	threshold := cfg.GzipThreshold
	if threshold == 0 {
		threshold = DefaultGzipThreshold
	}

	return &HTTPClient{
		url:           target.String(),
		variant:       variant,
		http:          httpClient,
		gzipThreshold: threshold,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}, nil
}

// Send posts records as one request.
func (c *HTTPClient) Send(ctx context.Context, credentials Credentials, records []*logrecord.Record) error {
	header := make(http.Header)
	header.Set(headerClientVersion, version.ClientVersion())

	var body bytes.Buffer
	switch c.variant {
	case VariantContainer:
		if credentials.AppSecret == "" {
			return ErrNoAppSecret
		}
		header.Set("Content-Type", logrecord.ContentTypeContainer)
		header.Set(headerInstallID, credentials.InstallID.String())
		header.Set(headerAppSecret, credentials.AppSecret)
		if credentials.AuthToken != "" {
			header.Set("Authorization", "Bearer "+credentials.AuthToken)
		}
		if err := logrecord.EncodeContainer(&body, records); err != nil {
			return &SerializationError{Err: err}
		}
	case VariantNDJSON:
		header.Set("Content-Type", logrecord.ContentTypeNDJSON)
		header.Set(headerUploadTime, strconv.FormatInt(c.clock.Now().UnixMilli(), 10))
		if keys := apiKeys(records); keys != "" {
			header.Set(headerAPIKey, keys)
		}
		if err := logrecord.EncodeNDJSON(&body, records); err != nil {
			return &SerializationError{Err: err}
		}
	}

	payload := body.Bytes()
	if c.gzipThreshold > 0 && len(payload) >= c.gzipThreshold {
		compressed, err := gzipBody(payload)
		if err != nil {
			return &SerializationError{Err: err}
		}
		payload = compressed
		header.Set("Content-Encoding", "gzip")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return &SerializationError{Err: err}
	}
	request.Header = header

	c.logger.Debug("sending batch",
		"url", c.url,
		"records", len(records),
		"bytes", len(payload),
		"app_secret", HideSecret(credentials.AppSecret),
		"api_keys", HideAPIKeys(header.Get(headerAPIKey)),
	)

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("ingestion: POST %s: %w", c.url, err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return netutil.Drain(response.Body)
	}
	defer response.Body.Close()
	return &HTTPError{
		StatusCode: response.StatusCode,
		Body:       netutil.ErrorBody(response.Body),
		RetryAfter: c.retryAfter(response.Header),
	}
}

// retryAfter reads the server's retry hint. The millisecond header
// wins over the standard one.
func (c *HTTPClient) retryAfter(header http.Header) time.Duration {
	if value := header.Get(headerRetryAfterMs); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(c.clock.Now()), 0)
	}
	return 0
}

// apiKeys joins the distinct destination tokens of records in first
// appearance order.
func apiKeys(records []*logrecord.Record) string {
	var keys []string
	for _, record := range records {
		for _, token := range record.Tokens {
			if !slices.Contains(keys, token) {
				keys = append(keys, token)
			}
		}
	}
	return strings.Join(keys, ",")
}

func gzipBody(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buffer.Bytes(), nil
}
