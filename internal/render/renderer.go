package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cuongbtq/invoicegen/internal/invoice"
)

// Supported output formats.
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

const numberAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Config configures the renderer.
type Config struct {
	OutputDir    string
	Format       string
	NumberPrefix string
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithClock sets the clock used to stamp the issue date.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithNumberGenerator sets the invoice number generator.
func WithNumberGenerator(gen func() (string, error)) Option {
	return func(r *Renderer) { r.number = gen }
}

// Renderer writes one file per rendered invoice into OutputDir.
type Renderer struct {
	cfg    Config
	now    func() time.Time
	number func() (string, error)
	logger *slog.Logger
}

// New creates a renderer and makes sure the output directory exists.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Renderer, error) {
	if cfg.Format == "" {
		cfg.Format = FormatPDF
	}
	if cfg.Format != FormatPDF && cfg.Format != FormatXLSX {
		return nil, fmt.Errorf("unsupported render format %q", cfg.Format)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "invoices"
	}
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "INV-"
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	r := &Renderer{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	r.number = func() (string, error) {
		id, err := gonanoid.Generate(numberAlphabet, 10)
		if err != nil {
			return "", err
		}
		return r.cfg.NumberPrefix + id, nil
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Format returns the output format.
func (r *Renderer) Format() string {
	return r.cfg.Format
}

// Render lays out rec and writes the document. rec is passed by value and
// never modified.
func (r *Renderer) Render(ctx context.Context, rec invoice.Record) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	number, err := r.number()
	if err != nil {
		return Document{}, fmt.Errorf("generate invoice number: %w", err)
	}
	issued := r.now().UTC()
	layout := BuildLayout(&rec, number, issued)

	if layout.Logo != "" {
		if _, err := os.Stat(layout.Logo); err != nil {
			r.logger.Warn("Logo not readable, omitting it",
				slog.String("logo", layout.Logo),
				slog.Any("error", err),
			)
			layout.Logo = ""
		}
	}

	path := filepath.Join(r.cfg.OutputDir, number+"."+r.cfg.Format)
	switch r.cfg.Format {
	case FormatXLSX:
		err = writeXLSX(layout, issued, path)
	default:
		err = writePDF(layout, issued, path)
	}
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", r.cfg.Format, err)
	}

	r.logger.Info("Invoice rendered",
		slog.String("invoice_number", number),
		slog.String("path", path),
	)

	return Document{Path: path, InvoiceNumber: number, IssuedAt: issued}, nil
}
