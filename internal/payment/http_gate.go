package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoReference is returned when the gate answers without a reference.
var ErrNoReference = errors.New("payment gate returned no payment reference")

// HTTPConfig configures the HTTP payment gate.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPGate is a Gate backed by a JSON HTTP API.
type HTTPGate struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPGate creates a new HTTP payment gate client.
func NewHTTPGate(cfg HTTPConfig, logger *slog.Logger) *HTTPGate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPGate{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Request creates a payment for a job. Every field of the response other
// than the reference is returned as metadata.
func (g *HTTPGate) Request(ctx context.Context, req Request) (Payment, error) {
	var out map[string]any
	err := g.do(ctx, http.MethodPost, "/payment", map[string]any{
		"job_id":                    req.JobID,
		"input_hash":                req.InputHash,
		"identifier_from_purchaser": req.PurchaserIdentifier,
	}, &out)
	if err != nil {
		return Payment{}, fmt.Errorf("request payment: %w", err)
	}

	ref, _ := out["payment_reference"].(string)
	if ref == "" {
		ref, _ = out["blockchain_identifier"].(string)
	}
	if ref == "" {
		return Payment{}, ErrNoReference
	}
	delete(out, "payment_reference")

	g.logger.Info("Payment requested",
		slog.String("job_id", req.JobID),
		slog.String("payment_reference", ref),
	)
	return Payment{Reference: ref, Metadata: out}, nil
}

// Status returns the gate's raw status for a payment.
func (g *HTTPGate) Status(ctx context.Context, reference string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := g.do(ctx, http.MethodGet, "/payment/"+url.PathEscape(reference), nil, &out); err != nil {
		return "", fmt.Errorf("payment status: %w", err)
	}
	return out.Status, nil
}

// Complete submits the result digest, releasing the payment.
func (g *HTTPGate) Complete(ctx context.Context, reference, resultHash string) error {
	path := "/payment/" + url.PathEscape(reference) + "/complete"
	if err := g.do(ctx, http.MethodPost, path, map[string]any{"result_hash": resultHash}, nil); err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	g.logger.Info("Payment completed",
		slog.String("payment_reference", reference),
	)
	return nil
}

func (g *HTTPGate) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.cfg.BaseURL, "/")+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gate status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
