package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/odyssey-erp/revreport/internal/revenue"
)

// WriteFile writes fn's output to path, replacing any existing file. Output is
// staged in a temporary file next to path and renamed into place.
func WriteFile(path string, fn func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("export: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("export: chmod %s: %w", tmp.Name(), err)
	}
	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("export: replace %s: %w", path, err)
	}
	return nil
}

// WriteReportFiles writes the product and account files of report.
func WriteReportFiles(productPath, accountPath string, report revenue.Report) error {
	if err := WriteFile(productPath, func(w io.Writer) error {
		return WriteProductRows(w, report.Products, report.Years)
	}); err != nil {
		return err
	}
	return WriteFile(accountPath, func(w io.Writer) error {
		return WriteAccountRows(w, report.Accounts, report.Years)
	})
}
