package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/resilience"
)

const (
	// DefaultBaseURL is the production API root of the gateway.
	DefaultBaseURL = "https://api.yookassa.ru/v3/"
	// DefaultTimeout bounds every gateway call.
	DefaultTimeout = 15 * time.Second

	idempotenceHeader = "Idempotence-Key"
	maxResponseBytes  = 1 << 20
)

// ClientConfig configures a gateway Client.
type ClientConfig struct {
	BaseURL   string
	ShopID    string
	Secret    string
	Timeout   time.Duration
	Breaker   *resilience.Breaker
	Transport http.RoundTripper
	Logger    zerolog.Logger
}

// Client talks to the payment gateway REST API. It never retries: callers
// pass an idempotency key so that a repeated create is deduplicated upstream.
type Client struct {
	baseURL string
	shopID  string
	secret  string
	http    resilience.HTTPClient
	logger  zerolog.Logger
}

// NewClient builds a gateway client with an instrumented transport.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("yookassa")
	}
	logger := cfg.Logger
	return &Client{
		baseURL: strings.TrimRight(base, "/") + "/",
		shopID:  cfg.ShopID,
		secret:  cfg.Secret,
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker:     breaker,
			MaxAttempts: 1,
			Timeout:     timeout,
			Target:      "yookassa",
			Logger:      &logger,
		},
		logger: cfg.Logger,
	}
}

type envelope struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Parameter   string `json:"parameter"`
}

// Send performs one authenticated call. body is JSON-encoded when non-nil and
// idempotencyKey is sent when non-empty. The raw JSON response is returned on
// success; failures are *GatewayError values.
func (c *Client) Send(ctx context.Context, method, endpoint string, body any, idempotencyKey string) (json.RawMessage, error) {
	operation := operationLabel(method, endpoint)
	ctx, span := otel.Tracer("payment.gateway").Start(ctx, "GatewayClient.Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.operation", operation),
		attribute.Bool("gateway.idempotent", idempotencyKey != ""),
	)

	start := time.Now()
	result := "error"
	defer func() {
		if obs.GatewayRequestTotal != nil {
			obs.GatewayRequestTotal.WithLabelValues(operation, result).Inc()
		}
		if obs.GatewayRequestDuration != nil {
			obs.GatewayRequestDuration.WithLabelValues(operation).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	raw, gwErr := c.send(ctx, method, endpoint, body, idempotencyKey)
	if gwErr != nil {
		result = string(gwErr.Kind)
		span.RecordError(gwErr)
		span.SetStatus(codes.Error, result)
		return nil, gwErr
	}
	result = "ok"
	return raw, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, idempotencyKey string) (json.RawMessage, *GatewayError) {
	target := c.baseURL + strings.TrimLeft(endpoint, "/")

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &GatewayError{Kind: KindMalformed, Err: fmt.Errorf("encode request: %w", err)}
		}
		payload = encoded
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &GatewayError{Kind: KindMalformed, Err: fmt.Errorf("build request: %w", err)}
	}
	req.SetBasicAuth(c.shopID, c.secret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotenceHeader, idempotencyKey)
	}

	evt := c.logger.Debug().Str("method", method).Str("endpoint", endpoint)
	if payload != nil {
		evt = evt.RawJSON("payload", payload)
	}
	evt.Msg("gateway request")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Interface("headers", resp.Header).
		Bytes("body", data).
		Msg("gateway response")

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &GatewayError{Kind: KindMalformed, Status: resp.StatusCode, Err: errors.New("empty response body")}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &GatewayError{Kind: KindMalformed, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Type != "" {
		return nil, &GatewayError{
			Kind:        KindEnvelope,
			Status:      resp.StatusCode,
			Type:        env.Type,
			ID:          env.ID,
			Code:        env.Code,
			Description: env.Description,
			Parameter:   env.Parameter,
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &GatewayError{Kind: KindMalformed, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return json.RawMessage(data), nil
}

func transportError(err error) *GatewayError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: KindTimeout, Err: err}
	}
	return &GatewayError{Kind: KindMalformed, Err: err}
}

func operationLabel(method, endpoint string) string {
	resource := strings.Trim(endpoint, "/")
	if i := strings.IndexByte(resource, '/'); i >= 0 {
		resource = resource[:i]
	}
	return strings.ToUpper(method) + " " + resource
}

// CreatePayment registers a payment. The gateway deduplicates repeated calls
// carrying the same idempotency key.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotencyKey string) (*Payment, error) {
	raw, err := c.Send(ctx, http.MethodPost, "payments", req, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return decodePayment(raw)
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("payment: payment id is required")
	}
	raw, err := c.Send(ctx, http.MethodGet, "payments/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	return decodePayment(raw)
}

func decodePayment(raw json.RawMessage) (*Payment, error) {
	var p Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &GatewayError{Kind: KindMalformed, Err: fmt.Errorf("decode payment: %w", err)}
	}
	if p.ID == "" {
		return nil, &GatewayError{Kind: KindMalformed, Err: errors.New("payment without id")}
	}
	return &p, nil
}
