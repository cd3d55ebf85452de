package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/revreport/cmd/revreport/cli"
	_ "github.com/odyssey-erp/revreport/testing"
)

func TestRunPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, cli.ExitFailure, run(context.Background(), nil, &stdout, &stderr))
	require.Contains(t, stderr.String(), "usage: revreport")

	stderr.Reset()
	require.Equal(t, cli.ExitFailure, run(context.Background(), []string{"explode"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), `unknown command "explode"`)

	require.Equal(t, cli.ExitOK, run(context.Background(), []string{"help"}, &stdout, &stderr))
	require.Contains(t, stdout.String(), "mappings import")
}

func TestRunRejectsInvertedYears(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"run", "--first", "2023", "--last", "2020", "a", "b", "c", "d"}, &stdout, &stderr)
	require.Equal(t, cli.ExitFailure, code)
	require.Contains(t, stderr.String(), "invalid year range")
}

// writeExport writes a one row export whose account columns are blank.
func writeExport(t *testing.T, dir string) string {
	t.Helper()
	input := filepath.Join(dir, "export.csv")
	row := make([]string, 41)
	row[15], row[16], row[23] = "1/1/2020", "12/31/2020", "500"
	var buf bytes.Buffer
	buf.WriteString("Opportunity ID - 18 Digit\n")
	for i, field := range row {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(field)
	}
	buf.WriteByte('\n')
	require.NoError(t, os.WriteFile(input, buf.Bytes(), 0o600))
	return input
}

func TestRunSkipsBlankAccountsWithPartialExit(t *testing.T) {
	dir := t.TempDir()
	input := writeExport(t, dir)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"run", "--first", "2020", "--last", "2020", "--json",
		input, "-", filepath.Join(dir, "p.csv"), filepath.Join(dir, "a.csv"),
	}, &stdout, &stderr)
	require.Equal(t, cli.ExitPartial, code, stderr.String())
	require.Contains(t, stdout.String(), `"skipped": 1`)

	got, err := os.ReadFile(filepath.Join(dir, "p.csv"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRunAcceptsFlagsAfterArguments(t *testing.T) {
	dir := t.TempDir()
	input := writeExport(t, dir)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"run", input, "-", filepath.Join(dir, "p.csv"), filepath.Join(dir, "a.csv"),
		"--first", "2018", "--last", "2023", "--json",
	}, &stdout, &stderr)
	require.Equal(t, cli.ExitPartial, code, stderr.String())
	require.Contains(t, stdout.String(), `"skipped": 1`)
}

func TestParseInterspersed(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want []string
		json bool
	}{
		{"flags first", []string{"--json", "a", "-", "c", "d"}, []string{"a", "-", "c", "d"}, true},
		{"flags last", []string{"a", "-", "c", "d", "--json"}, []string{"a", "-", "c", "d"}, true},
		{"flags between", []string{"a", "--json", "b", "c", "d"}, []string{"a", "b", "c", "d"}, true},
		{"terminator", []string{"a", "--", "--json"}, []string{"a", "--json"}, false},
		{"none", nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			jsonOut := fs.Bool("json", false, "")
			got, err := parseInterspersed(fs, tc.args)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.json, *jsonOut)
		})
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := parseInterspersed(fs, []string{"a", "--bogus"})
	require.Error(t, err)
}

func TestEnqueueRejectsInvertedYears(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"enqueue", "a", "b", "c", "d", "--first", "2023", "--last", "2020"}, &stdout, &stderr)
	require.Equal(t, cli.ExitFailure, code)
	require.Contains(t, stderr.String(), "invalid year range")
}
