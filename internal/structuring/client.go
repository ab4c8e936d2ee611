// Package structuring turns free-text invoice facts and regulatory context
// into a typed invoice record and a compliance analysis using an OpenAI
// compatible chat completions API.
package structuring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/invoicegen/internal/invoice"
)

// Config configures the chat completions client.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	Timeout         time.Duration
	MaxContextChars int
}

// Request is one structuring pass.
type Request struct {
	Facts             invoice.Facts
	RegulatoryContext string
}

// Result is the output of a successful pass.
type Result struct {
	Record   invoice.Record
	Analysis string
}

// Client calls the chat completions endpoint twice per pass: once to
// extract the record and once to analyse it.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a structuring client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 24000
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Structure extracts the invoice record and produces the compliance
// analysis. Every failure is a *Error.
func (c *Client) Structure(ctx context.Context, req Request) (Result, error) {
	rid := uuid.New().String()
	start := time.Now()
	regulatory := truncate(req.RegulatoryContext, c.cfg.MaxContextChars)

	c.log.Info("Structuring invoice",
		slog.String("req_id", rid),
		slog.String("model", c.cfg.Model),
		slog.Int("context_len", len(regulatory)),
	)

	raw, err := c.complete(ctx, "extract", extractionSystemPrompt(),
		extractionUserPrompt(req.Facts.Text(), regulatory), RecordSchema())
	if err != nil {
		return Result{}, err
	}

	var rec invoice.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Result{}, fatal("extract", fmt.Errorf("unmarshal record: %w", err))
	}

	recJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Result{}, fatal("analyse", fmt.Errorf("marshal record: %w", err))
	}

	raw, err = c.complete(ctx, "analyse", analysisSystemPrompt(),
		analysisUserPrompt(string(recJSON), regulatory), AnalysisSchema())
	if err != nil {
		return Result{}, err
	}

	var analysis struct {
		Analysis string `json:"analysis"`
	}
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return Result{}, fatal("analyse", fmt.Errorf("unmarshal analysis: %w", err))
	}

	c.log.Info("Invoice structured",
		slog.String("req_id", rid),
		slog.Int("lines", len(rec.Descriptions)),
		slog.String("total", rec.Total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return Result{Record: rec, Analysis: strings.TrimSpace(analysis.Analysis)}, nil
}

// complete runs one chat completion in JSON mode and returns the message
// content after validating it against schema.
func (c *Client) complete(ctx context.Context, op, system, user string, schema map[string]any) ([]byte, error) {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fatal(op, fmt.Errorf("marshal schema: %w", err))
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "system", "content": "JSON Schema:\n" + string(schemaJSON)},
			{"role": "user", "content": user},
		},
	}

	raw, err := c.post(ctx, op, body)
	if err != nil {
		c.log.Error("Chat completion failed",
			slog.String("op", op),
			slog.Any("error", err),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fatal(op, fmt.Errorf("decode response: %w", err))
	}
	if len(cc.Choices) == 0 {
		return nil, fatal(op, errors.New("no choices in response"))
	}

	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	if err := validateAgainst(schema, content); err != nil {
		c.log.Error("Chat completion violates schema",
			slog.String("op", op),
			slog.Any("error", err),
		)
		return nil, fatal(op, err)
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, op string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fatal(op, fmt.Errorf("marshal request: %w", err))
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fatal(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(op, resp.StatusCode, strings.TrimSpace(truncate(string(data), 512)))
	}
	return data, nil
}
