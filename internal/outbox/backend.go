package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warimas-pos/internal/auth"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxReasonBytes = 4 << 10

// Backend sends mutations to the authoritative order service over HTTP.
type Backend struct {
	baseURL    string
	httpClient *http.Client
	signer     *auth.Signer
	tracer     trace.Tracer
}

func NewBackend(baseURL string, timeout time.Duration, signer *auth.Signer) *Backend {
	return &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		tracer:     otel.Tracer("warimas-pos/outbox"),
	}
}

func route(m *Mutation) (method, path string, err error) {
	switch m.EntityType {
	case EntityOrder:
		path = "/orders/" + m.EntityID
	case EntityOrderItem:
		path = "/order-items/" + m.EntityID
	default:
		return "", "", fmt.Errorf("%w: entity type %q", ErrInvalidMutation, m.EntityType)
	}

	switch m.Operation {
	case OpCreate:
		method = http.MethodPost
	case OpUpdate:
		method = http.MethodPut
	case OpDelete:
		method = http.MethodDelete
	default:
		return "", "", fmt.Errorf("%w: operation %q", ErrInvalidMutation, m.Operation)
	}
	return method, path, nil
}

func (b *Backend) Send(ctx context.Context, m *Mutation) (err error) {
	method, path, err := route(m)
	if err != nil {
		return &RejectionError{Reason: err.Error()}
	}

	ctx, span := b.tracer.Start(ctx, "outbox.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("outbox.mutation_id", m.ID),
			attribute.String("outbox.order_id", m.OrderID),
			attribute.String("outbox.operation", string(m.Operation)),
			attribute.Int64("outbox.seq", m.Seq),
			attribute.Int("outbox.attempt", m.Attempts+1),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if m.Operation != OpDelete {
		body = bytes.NewReader(m.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Idempotency-Key", m.ID)
	req.Header.Set("X-Outbox-Seq", strconv.FormatInt(m.Seq, 10))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if err := b.signer.Authorize(req); err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return classify(m.Operation, resp)
}

// classify maps a response onto the retry policy. A create answered with 409
// or a delete answered with 404 was already applied by an earlier attempt.
func classify(op Operation, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusConflict && op == OpCreate,
		code == http.StatusNotFound && op == OpDelete:
		return nil
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUnreachable, code)
	default:
		return &RejectionError{StatusCode: code, Reason: readReason(resp.Body)}
	}
}

func readReason(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxReasonBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

// Ping checks GET /health.
func (b *Backend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}
