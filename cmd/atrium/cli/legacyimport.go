package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/atrium-loyalty/atrium-loyalty/internal/legacy"
)

// LegacyImportOptions configures one operator-driven import run.
type LegacyImportOptions struct {
	JSONOutput  bool
	ShowResults bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// LegacyImportCLI wraps the importer for the legacy-import subcommand.
type LegacyImportCLI struct {
	importer *legacy.Importer
}

// NewLegacyImportCLI builds the CLI wrapper.
func NewLegacyImportCLI(importer *legacy.Importer) *LegacyImportCLI {
	return &LegacyImportCLI{importer: importer}
}

// Run executes one batch and renders the summary. Exit codes: 0 on a clean
// run, 2 when some rows failed, 1 on a run-level error.
func (c *LegacyImportCLI) Run(ctx context.Context, opts LegacyImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	summary, err := c.importer.Run(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "legacy-import: %v\n", err)
		return 1
	}

	if opts.JSONOutput {
		out := *summary
		if !opts.ShowResults {
			out.Results = nil
		}
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(opts.Stderr, "legacy-import: encode summary: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintf(opts.Stdout, "legacy import from cursor %d\n", summary.Cursor)
		fmt.Fprintf(opts.Stdout, "  processed: %d\n", summary.Processed)
		fmt.Fprintf(opts.Stdout, "  saved:     %d\n", summary.Saved)
		fmt.Fprintf(opts.Stdout, "  invalid:   %d\n", summary.Invalid)
		fmt.Fprintf(opts.Stdout, "  duplicate: %d\n", summary.Duplicate)
		fmt.Fprintf(opts.Stdout, "  failed:    %d\n", summary.Failed)
		if opts.ShowResults {
			for _, r := range summary.Results {
				line := fmt.Sprintf("  [%s] legacy_id=%d email=%s", r.Outcome, r.LegacyID, r.Email)
				if r.Error != "" {
					line += " error=" + r.Error
				}
				fmt.Fprintln(opts.Stdout, line)
			}
		}
	}

	if summary.Failed > 0 {
		return 2
	}
	return 0
}
