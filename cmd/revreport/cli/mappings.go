package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/revreport/internal/mapping"
)

// MappingStore persists the shared account name mappings.
type MappingStore interface {
	ReplaceMappings(ctx context.Context, entries []mapping.Entry) (int, error)
}

// VersionBumper invalidates cached reports built from older mappings.
type VersionBumper interface {
	Bump(ctx context.Context) error
}

// MappingsCLI manages the Postgres backed mapping table.
type MappingsCLI struct {
	store MappingStore
	cache VersionBumper
}

// NewMappingsCLI constructs the helper. cache may be nil.
func NewMappingsCLI(store MappingStore, cache VersionBumper) (*MappingsCLI, error) {
	if store == nil {
		return nil, errors.New("mappings cli: store required (set PG_DSN)")
	}
	return &MappingsCLI{store: store, cache: cache}, nil
}

// ImportOptions configures an import.
type ImportOptions struct {
	Path   string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ImportCommand replaces the stored mappings with the rows of a CSV file, or
// stdin when Path is "-", and bumps the report cache version.
func (c *MappingsCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	var table *mapping.Table
	var err error
	switch opts.Path {
	case "":
		fmt.Fprintln(opts.Stderr, "mappings import: file path required")
		return ExitFailure
	case "-":
		table, err = mapping.LoadCSV(opts.Stdin)
	default:
		table, err = mapping.FileSource{Path: opts.Path}.Load(ctx)
	}
	if err != nil {
		fmt.Fprintf(opts.Stderr, "mappings import: %v\n", err)
		return ExitFailure
	}
	n, err := c.store.ReplaceMappings(ctx, table.Entries())
	if err != nil {
		fmt.Fprintf(opts.Stderr, "mappings import: %v\n", err)
		return ExitFailure
	}
	if c.cache != nil {
		if err := c.cache.Bump(ctx); err != nil {
			fmt.Fprintf(opts.Stderr, "mappings import: bump cache version: %v\n", err)
			return ExitFailure
		}
	}
	fmt.Fprintf(opts.Stdout, "Imported %d mappings.\n", n)
	return ExitOK
}
