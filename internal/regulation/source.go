// Package regulation looks up invoicing rules for a pair of jurisdictions by
// searching the web and scraping the top results.
package regulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuongbtq/invoicegen/internal/invoice"
	"github.com/cuongbtq/invoicegen/internal/normalizer"
)

// Config configures the Serper-backed source.
type Config struct {
	BaseURL      string
	APIKey       string
	Results      int
	Timeout      time.Duration
	MaxPageBytes int64
	UserAgent    string
}

// SerperSource issues one search per distinct jurisdiction and fetches the
// top organic results. It never fails: unreachable sources are skipped.
type SerperSource struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewSerperSource creates a new regulation source.
func NewSerperSource(cfg Config, logger *slog.Logger) *SerperSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://google.serper.dev"
	}
	if cfg.Results <= 0 {
		cfg.Results = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "invoicegen/1.0"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "serper",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &SerperSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Queries returns the search queries issued for a jurisdiction pair. Equal
// jurisdictions (case-insensitive) produce a single query and unknown ones
// none at all.
func Queries(a, b string) []string {
	var out []string
	for _, j := range []string{a, b} {
		j = invoice.Jurisdiction(j)
		if j == invoice.JurisdictionRequired {
			continue
		}
		q := "Invoice regulations in " + j
		if len(out) == 1 && strings.EqualFold(out[0], q) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Lookup returns raw page text for both jurisdictions, sender first.
func (s *SerperSource) Lookup(ctx context.Context, a, b string) []normalizer.Block {
	var blocks []normalizer.Block
	for _, query := range Queries(a, b) {
		results, err := s.search(ctx, query)
		if err != nil {
			s.logger.Warn("Regulation search failed",
				slog.String("query", query),
				slog.Any("error", err),
			)
			continue
		}

		for _, r := range results {
			text, err := s.fetch(ctx, r.Link)
			if err != nil {
				s.logger.Warn("Failed to fetch regulation page",
					slog.String("url", r.Link),
					slog.Any("error", err),
				)
				text = r.Snippet
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			blocks = append(blocks, normalizer.Block{Source: r.Link, Text: text})
		}
	}

	s.logger.Info("Regulation lookup finished",
		slog.String("sender_jurisdiction", a),
		slog.String("recipient_jurisdiction", b),
		slog.Int("blocks", len(blocks)),
	)
	return blocks
}

type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (s *SerperSource) search(ctx context.Context, query string) ([]organicResult, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(map[string]any{"q": query, "num": s.cfg.Results})
		if err != nil {
			return nil, fmt.Errorf("marshal search request: %w", err)
		}

		endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/search"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", s.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("search request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("search status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		var parsed struct {
			Organic []organicResult `json:"organic"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}
		return parsed.Organic, nil
	})
	if err != nil {
		return nil, err
	}

	results := out.([]organicResult)
	if len(results) > s.cfg.Results {
		results = results[:s.cfg.Results]
	}
	return results, nil
}

var errUnsupportedContent = errors.New("unsupported content type")

func (s *SerperSource) fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", errors.New("empty link")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, s.cfg.MaxPageBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/html", "application/xhtml+xml", "":
		return extractText(body)
	case "text/plain":
		b, err := io.ReadAll(body)
		return string(b), err
	default:
		return "", fmt.Errorf("%w: %s", errUnsupportedContent, mediaType)
	}
}
