package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
)

// Exit codes returned by RunCommand.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPartial = 10
)

// Usage is printed when the positional arguments are wrong.
const Usage = "usage: revreport run [--first YEAR] [--last YEAR] [--workers N] [--json] [--save] <input> <mappingfile> <prodoutput> <summaryoutput>"

// ReportBuilder is the subset of reports.Service the run command drives.
type ReportBuilder interface {
	Years() revenue.YearRange
	BuildFiles(ctx context.Context, files reports.Files) (reports.Outcome, error)
	Save(ctx context.Context, source string, outcome reports.Outcome) (uuid.UUID, error)
}

// ReportCLI runs reports from the command line.
type ReportCLI struct {
	builder ReportBuilder
}

// NewReportCLI constructs the helper.
func NewReportCLI(builder ReportBuilder) (*ReportCLI, error) {
	if builder == nil {
		return nil, errors.New("report cli: builder required")
	}
	return &ReportCLI{builder: builder}, nil
}

// RunOptions configures one run.
type RunOptions struct {
	Args       []string
	JSONOutput bool
	Save       bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RunSummary is the structured outcome printed after a run.
type RunSummary struct {
	Years       string    `json:"years"`
	Input       string    `json:"input"`
	Mapping     string    `json:"mapping,omitempty"`
	Product     string    `json:"product_output"`
	Account     string    `json:"account_output"`
	Rows        int       `json:"rows"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	Rejected    int       `json:"rejected"`
	Mappings    int       `json:"mappings"`
	ProductRows int       `json:"product_rows"`
	AccountRows int       `json:"account_rows"`
	RunID       uuid.UUID `json:"run_id,omitempty"`
}

// ParseFiles maps the four positional arguments onto report files. A mapping
// of "-" selects the configured default mappings.
func ParseFiles(args []string) (reports.Files, error) {
	if len(args) != 4 {
		return reports.Files{}, fmt.Errorf("expected 4 arguments, got %d", len(args))
	}
	for i, arg := range args {
		if strings.TrimSpace(arg) == "" {
			return reports.Files{}, fmt.Errorf("argument %d is empty", i+1)
		}
	}
	files := reports.Files{Input: args[0], Mapping: args[1], Product: args[2], Account: args[3]}
	if files.Mapping == "-" {
		files.Mapping = ""
	}
	return files, nil
}

// RunCommand executes the report workflow and returns the process exit code.
// ExitPartial signals a complete run that dropped some input rows.
func (c *ReportCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	files, err := ParseFiles(opts.Args)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revreport run: %v\n%s\n", err, Usage)
		return ExitFailure
	}
	outcome, err := c.builder.BuildFiles(ctx, files)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revreport run: %v\n", err)
		return ExitFailure
	}
	summary := RunSummary{
		Years:       c.builder.Years().String(),
		Input:       files.Input,
		Mapping:     files.Mapping,
		Product:     files.Product,
		Account:     files.Account,
		Rows:        outcome.Rows,
		Records:     outcome.Records,
		Skipped:     outcome.Skipped,
		Rejected:    outcome.Rejected,
		Mappings:    outcome.Mappings,
		ProductRows: len(outcome.Report.Products),
		AccountRows: len(outcome.Report.Accounts),
	}
	if opts.Save {
		id, err := c.builder.Save(ctx, files.Input, outcome)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "revreport run: save: %v\n", err)
			return ExitFailure
		}
		summary.RunID = id
	}
	if err := writeRunSummary(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "revreport run: %v\n", err)
		return ExitFailure
	}
	if summary.Skipped > 0 || summary.Rejected > 0 {
		return ExitPartial
	}
	return ExitOK
}

func writeRunSummary(opts RunOptions, summary RunSummary) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	w := opts.Stdout
	fmt.Fprintf(w, "Years: %s\n", summary.Years)
	fmt.Fprintf(w, "Input: %s (%d rows, %d used, %d skipped, %d rejected)\n",
		summary.Input, summary.Rows, summary.Records, summary.Skipped, summary.Rejected)
	if summary.Mapping != "" {
		fmt.Fprintf(w, "Mapping: %s (%d entries)\n", summary.Mapping, summary.Mappings)
	} else {
		fmt.Fprintf(w, "Mapping: default (%d entries)\n", summary.Mappings)
	}
	fmt.Fprintf(w, "Product output: %s (%d rows)\n", summary.Product, summary.ProductRows)
	fmt.Fprintf(w, "Account output: %s (%d rows)\n", summary.Account, summary.AccountRows)
	if summary.RunID != uuid.Nil {
		fmt.Fprintf(w, "Run: %s\n", summary.RunID)
	}
	_, err := fmt.Fprintln(w, "Done.")
	return err
}
