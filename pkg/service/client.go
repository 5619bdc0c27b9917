// Package service sends eligibility payloads to the remote service and turns
// every outcome into either a Response or a classified *Failure.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/payload"
)

// DefaultTimeout matches the service's own upper bound for an eligibility check.
const DefaultTimeout = 5 * time.Minute

const maxResponseBytes = 32 << 20

// Response is a successful service reply. Body is always valid JSON.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Client sends one payload and returns one response or a *Failure. Implementations
// must be safe for concurrent use.
type Client interface {
	Send(ctx context.Context, p payload.Payload) (*Response, error)
}

// Config configures an HTTPClient.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the underlying client. Its own Timeout is left as is.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPClient posts payloads as JSON.
type HTTPClient struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, sdkerrors.NewConfigError("service url is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 64
		cfg.HTTPClient = &http.Client{Transport: transport}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &HTTPClient{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
		tracer:  otel.Tracer("daedalus/service"),
	}, nil
}

// Send implements Client.
func (c *HTTPClient) Send(ctx context.Context, p payload.Payload) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "service.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("service.trading_partner", p.TradingPartnerServiceID)))
	defer span.End()

	resp, err := c.send(ctx, p)
	if err != nil {
		failure := Classify(err)
		if failure.StatusCode > 0 {
			span.SetAttributes(attribute.Int("http.status_code", failure.StatusCode))
		}
		span.SetAttributes(
			attribute.String("error.code", failure.Code),
			attribute.Bool("error.retryable", failure.Retryable))
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Reason)
		return nil, failure
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (c *HTTPClient) send(ctx context.Context, p payload.Payload) (*Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, &Failure{Code: ErrorCodeValidation, Reason: fmt.Sprintf("encode payload: %v", err), Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Code: ErrorCodeUnknown, Reason: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		// the parent context decides between a cancelled run and a timed out call
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		failure := FromResponse(res.StatusCode, data)
		c.logger.Debug("Service rejected request",
			zap.Int("statusCode", res.StatusCode),
			zap.String("code", failure.Code),
			zap.Bool("retryable", failure.Retryable))
		return nil, failure
	}

	if !gjson.ValidBytes(data) {
		return nil, &Failure{
			StatusCode: res.StatusCode,
			Code:       ErrorCodeInvalidResponse,
			Reason:     "response body is not valid JSON",
		}
	}

	return &Response{StatusCode: res.StatusCode, Body: json.RawMessage(data)}, nil
}
