package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/revreport/cmd/revreport/cli"
	"github.com/odyssey-erp/revreport/internal/app"
	"github.com/odyssey-erp/revreport/internal/revenue"
)

const usage = `usage: revreport <command> [flags] [args]

commands:
  run <input> <mappingfile> <prodoutput> <summaryoutput> [--first Y --last Y --workers N --json --save]
        build both report files; use "-" as mappingfile for the configured mappings
  enqueue <input> <mappingfile> <prodoutput> <summaryoutput> [--first Y --last Y --save --requested-by NAME]
        submit the same run to the background worker
  mappings import <file|->
        replace the stored account name mappings and bump the report cache
  jobs stats
        print the default queue counters`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return cli.ExitFailure
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "revreport: %v\n", err)
		return cli.ExitFailure
	}
	logger := app.NewLoggerTo(stderr, cfg)

	switch args[0] {
	case "run":
		return runReport(ctx, cfg, logger, args[1:], stdout, stderr)
	case "enqueue":
		return enqueue(ctx, cfg, args[1:], stdout, stderr)
	case "mappings":
		if len(args) != 3 || args[1] != "import" {
			fmt.Fprintln(stderr, usage)
			return cli.ExitFailure
		}
		return importMappings(ctx, cfg, logger, args[2], stdout, stderr)
	case "jobs":
		if len(args) != 2 || args[1] != "stats" {
			fmt.Fprintln(stderr, usage)
			return cli.ExitFailure
		}
		return jobStats(ctx, cfg, stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprintln(stdout, usage)
		return cli.ExitOK
	default:
		fmt.Fprintf(stderr, "revreport: unknown command %q\n%s\n", args[0], usage)
		return cli.ExitFailure
	}
}

func runReport(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	first := fs.Int("first", cfg.ReportFirstYear, "first report year")
	last := fs.Int("last", cfg.ReportLastYear, "last report year")
	workers := fs.Int("workers", cfg.ReportWorkers, "parallel aggregation workers")
	jsonOut := fs.Bool("json", false, "print the run summary as JSON")
	save := fs.Bool("save", false, "persist the run to Postgres")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return cli.ExitFailure
	}
	years := revenue.YearRange{First: *first, Last: *last}
	if err := years.Validate(); err != nil {
		fmt.Fprintf(stderr, "revreport run: %v\n", err)
		return cli.ExitFailure
	}
	if *save && cfg.PGDSN == "" {
		fmt.Fprintln(stderr, "revreport run: --save needs PG_DSN")
		return cli.ExitFailure
	}
	deps, err := app.Open(ctx, cfg, logger, app.DepsOptions{Years: years, Workers: *workers})
	if err != nil {
		fmt.Fprintf(stderr, "revreport run: %v\n", err)
		return cli.ExitFailure
	}
	defer deps.Close()

	reportCLI, err := cli.NewReportCLI(deps.Reports)
	if err != nil {
		fmt.Fprintf(stderr, "revreport run: %v\n", err)
		return cli.ExitFailure
	}
	return reportCLI.RunCommand(ctx, cli.RunOptions{
		Args:       positional,
		JSONOutput: *jsonOut,
		Save:       *save,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func enqueue(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	first := fs.Int("first", 0, "first report year (default: worker setting)")
	last := fs.Int("last", 0, "last report year (default: worker setting)")
	save := fs.Bool("save", false, "persist the run to Postgres")
	requestedBy := fs.String("requested-by", os.Getenv("USER"), "recorded on the completion event")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return cli.ExitFailure
	}
	opts := cli.EnqueueOptions{Save: *save, RequestedBy: *requestedBy}
	if *first != 0 || *last != 0 {
		opts.Years = revenue.YearRange{First: *first, Last: *last}
	}
	if _, err := cli.ReportPayload(positional, opts); err != nil {
		fmt.Fprintf(stderr, "revreport enqueue: %v\n", err)
		return cli.ExitFailure
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(stderr, "revreport enqueue: %v\n", err)
		return cli.ExitFailure
	}
	defer jobsCLI.Close()
	info, err := jobsCLI.EnqueueReport(ctx, positional, opts)
	if err != nil {
		fmt.Fprintf(stderr, "revreport enqueue: %v\n", err)
		return cli.ExitFailure
	}
	fmt.Fprintf(stdout, "Enqueued %s on queue %s.\n", info.ID, info.Queue)
	return cli.ExitOK
}

// parseInterspersed parses fs flags appearing before, between or after the
// positional arguments, which it returns in order. Everything after "--" is
// positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func importMappings(ctx context.Context, cfg *app.Config, logger *slog.Logger, path string, stdout, stderr io.Writer) int {
	if cfg.PGDSN == "" {
		fmt.Fprintln(stderr, "revreport mappings import: PG_DSN is required")
		return cli.ExitFailure
	}
	deps, err := app.Open(ctx, cfg, logger, app.DepsOptions{Redis: true})
	if err != nil {
		fmt.Fprintf(stderr, "revreport mappings import: %v\n", err)
		return cli.ExitFailure
	}
	defer deps.Close()
	mappingsCLI, err := cli.NewMappingsCLI(deps.Store, deps.Cache)
	if err != nil {
		fmt.Fprintf(stderr, "revreport mappings import: %v\n", err)
		return cli.ExitFailure
	}
	return mappingsCLI.ImportCommand(ctx, cli.ImportOptions{Path: path, Stdout: stdout, Stderr: stderr})
}

func jobStats(ctx context.Context, cfg *app.Config, stdout, stderr io.Writer) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(stderr, "revreport jobs: %v\n", err)
		return cli.ExitFailure
	}
	defer jobsCLI.Close()
	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "revreport jobs: %v\n", err)
		return cli.ExitFailure
	}
	if cfg.LogFormat == "json" {
		_ = json.NewEncoder(stdout).Encode(stats)
		return cli.ExitOK
	}
	cli.WriteQueueStats(stdout, stats)
	return cli.ExitOK
}
