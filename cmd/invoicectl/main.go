// Command invoicectl runs the invoice pipeline once, locally, with an
// in-memory job table and an in-process payment gate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/invoicegen/internal/bootstrap"
	"github.com/cuongbtq/invoicegen/internal/config"
	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
	"github.com/cuongbtq/invoicegen/internal/orchestrator"
	"github.com/cuongbtq/invoicegen/internal/payment"
	"github.com/cuongbtq/invoicegen/internal/storage"
)

// Globals are shared by every command.
type Globals struct {
	Config string    `name:"config" short:"c" default:"configs/invoicectl/config.yaml" env:"INVOICECTL_CONFIG_PATH" help:"Config file" type:"path"`
	Out    io.Writer `kong:"-"`
}

// CLI defines the command-line interface using Kong
type CLI struct {
	Globals

	Generate GenerateCmd `cmd:"" help:"Generate an invoice from a facts file"`
	Validate ValidateCmd `cmd:"" help:"Check a facts file against the input schema"`
	Schema   SchemaCmd   `cmd:"" help:"Print the facts JSON schema"`
}

// GenerateCmd creates a job, confirms its payment locally and runs the
// pipeline, then applies any corrections in order.
type GenerateCmd struct {
	Facts     string   `name:"facts" short:"f" required:"" type:"existingfile" help:"JSON file with invoice facts"`
	Patch     []string `name:"patch" short:"p" type:"existingfile" help:"JSON file with corrections, applied in order after the first run"`
	Finalize  bool     `name:"finalize" help:"Send the completion signal after the last run"`
	Format    string   `name:"format" help:"Override the renderer format (pdf, xlsx)"`
	OutputDir string   `name:"output-dir" short:"o" type:"path" help:"Override the renderer output directory"`
}

// Summary is printed to stdout after every pipeline pass.
type Summary struct {
	JobID        string           `json:"job_id"`
	Status       string           `json:"status"`
	Result       string           `json:"result,omitempty"`
	ResultDigest string           `json:"result_digest,omitempty"`
	Analysis     string           `json:"analysis,omitempty"`
	Error        *domain.JobError `json:"error,omitempty"`
	Finalized    bool             `json:"finalized,omitempty"`
}

func (c *GenerateCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Storage.Driver = config.StorageMemory
	cfg.Dispatch.Mode = config.DispatchInline
	cfg.Payment.Mode = config.PaymentLocal
	if c.Format != "" {
		cfg.Renderer.Format = c.Format
	}
	if c.OutputDir != "" {
		cfg.Renderer.OutputDir = c.OutputDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	facts, err := readFacts(c.Facts)
	if err != nil {
		return err
	}

	gate := payment.NewLocalGate(false)
	deps, err := bootstrap.NewDeps(cfg, storage.NewMemoryStore(), gate, appLogger.Logger)
	if err != nil {
		return err
	}
	orch := orchestrator.New(deps, appLogger.Logger)
	defer orch.Close()

	return generate(context.Background(), g.Out, orch, gate, facts, c.Patch, c.Finalize, appLogger.Logger)
}

// generate drives one job through creation, local payment and every
// correction pass, printing a summary after each.
func generate(ctx context.Context, out io.Writer, orch *orchestrator.Orchestrator, gate *payment.LocalGate,
	facts invoice.Facts, patches []string, finalize bool, logger *slog.Logger) error {
	res, err := orch.Create(ctx, facts)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	gate.Confirm(res.PaymentReference)
	status, err := gate.Status(ctx, res.PaymentReference)
	if err != nil {
		return err
	}
	if _, err := orch.HandlePaymentEvent(ctx, res.PaymentReference, status); err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	orch.Wait()

	job, err := orch.GetStatus(ctx, res.JobID)
	if err != nil {
		return err
	}
	if err := printSummary(out, job); err != nil {
		return err
	}

	for _, path := range patches {
		if job.Status != domain.StatusCompleted {
			break
		}
		patch, err := readPatch(path)
		if err != nil {
			return err
		}
		logger.Info("Applying corrections", slog.String("file", path))
		if job, err = orch.ProvideInput(ctx, res.JobID, patch, ""); err != nil {
			return fmt.Errorf("failed to apply %s: %w", path, err)
		}
		if err := printSummary(out, job); err != nil {
			return err
		}
	}

	if job.Status == domain.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error.Error())
	}

	if finalize {
		if job, err = orch.ProvideInput(ctx, res.JobID, invoice.Facts{}, orchestrator.CompletionSignal); err != nil {
			return fmt.Errorf("failed to finalize job: %w", err)
		}
		return printSummary(out, job)
	}
	return nil
}

// ValidateCmd checks a facts file without running anything.
type ValidateCmd struct {
	Facts string `arg:"" type:"existingfile" help:"JSON file with invoice facts"`
}

func (c *ValidateCmd) Run(g *Globals) error {
	if _, err := readFacts(c.Facts); err != nil {
		return err
	}
	_, err := fmt.Fprintf(g.Out, "%s: ok\n", c.Facts)
	return err
}

// SchemaCmd prints the facts JSON schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run(g *Globals) error {
	enc := json.NewEncoder(g.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(invoice.FactsSchema())
}

// readFacts reads a complete start_job facts document.
func readFacts(path string) (invoice.Facts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return invoice.Facts{}, fmt.Errorf("failed to read facts: %w", err)
	}
	if err := invoice.ValidateFactsDocument(raw); err != nil {
		return invoice.Facts{}, fmt.Errorf("%s: %w", path, err)
	}
	var facts invoice.Facts
	if err := json.Unmarshal(raw, &facts); err != nil {
		return invoice.Facts{}, fmt.Errorf("failed to decode facts: %w", err)
	}
	if err := facts.Validate(); err != nil {
		return invoice.Facts{}, fmt.Errorf("%s: %w", path, err)
	}
	return facts, nil
}

// readPatch reads a sparse facts document; any subset of fields is allowed.
func readPatch(path string) (invoice.Facts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return invoice.Facts{}, fmt.Errorf("failed to read patch: %w", err)
	}
	var patch invoice.Facts
	if err := json.Unmarshal(raw, &patch); err != nil {
		return invoice.Facts{}, fmt.Errorf("failed to decode patch %s: %w", path, err)
	}
	return patch, nil
}

func printSummary(out io.Writer, job *domain.Job) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(Summary{
		JobID:        job.ID,
		Status:       string(job.Status),
		Result:       job.Result,
		ResultDigest: job.ResultDigest,
		Analysis:     job.Analysis,
		Error:        job.Error,
		Finalized:    job.Finalized,
	})
}

func main() {
	_ = godotenv.Load()

	cli := CLI{Globals: Globals{Out: os.Stdout}}
	ctx := kong.Parse(&cli,
		kong.Name("invoicectl"),
		kong.Description("Generate payment-gated invoices locally"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
