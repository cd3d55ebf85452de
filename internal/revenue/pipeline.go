package revenue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// minChunk keeps tiny inputs on a single goroutine.
const minChunk = 512

// Config parameterises a Pipeline.
type Config struct {
	Years   YearRange
	Workers int
	Logger  *slog.Logger
}

// Pipeline runs the product level and account level aggregation passes.
type Pipeline struct {
	years   YearRange
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline validates cfg and constructs a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Years.Validate(); err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{years: cfg.Years, workers: workers, logger: logger, now: time.Now}, nil
}

// Years returns the configured year range.
func (p *Pipeline) Years() YearRange {
	return p.years
}

// WithYears returns a copy of p that reports over years.
func (p *Pipeline) WithYears(years YearRange) (*Pipeline, error) {
	if p == nil {
		return nil, errors.New("revenue: pipeline not initialised")
	}
	if err := years.Validate(); err != nil {
		return nil, err
	}
	cp := *p
	cp.years = years
	return &cp, nil
}

// Run aggregates records into product level rows and then rolls those up to
// account level rows. Records without an account are logged and skipped; a
// record with an inverted date range aborts the run.
func (p *Pipeline) Run(ctx context.Context, records []DetailRecord) (Report, error) {
	if p == nil {
		return Report{}, errors.New("revenue: pipeline not initialised")
	}
	start := p.now()
	usable := make([]DetailRecord, 0, len(records))
	skipped := 0
	for i, rec := range records {
		if strings.TrimSpace(rec.Account) == "" {
			skipped++
			p.logger.Warn("skip record without account",
				slog.Int("index", i),
				slog.String("owner", rec.Owner),
				slog.String("product_line", rec.ProductLine),
				slog.String("amount", rec.Amount.String()),
				slog.Any("error", ErrMissingAccount))
			continue
		}
		usable = append(usable, rec)
	}

	products, err := p.productPass(ctx, usable)
	if err != nil {
		return Report{}, err
	}
	accounts, err := Aggregate(products, p.years, AccountSpec())
	if err != nil {
		return Report{}, err
	}

	p.logger.Info("revenue report built",
		slog.String("years", p.years.String()),
		slog.Int("records", len(records)),
		slog.Int("skipped", skipped),
		slog.Int("product_rows", len(products)),
		slog.Int("account_rows", len(accounts)),
		slog.Duration("duration", p.now().Sub(start)))
	return Report{Years: p.years, Products: products, Accounts: accounts, Skipped: skipped}, nil
}

func (p *Pipeline) productPass(ctx context.Context, records []DetailRecord) ([]Row, error) {
	spec := ProductSpec()
	if p.workers <= 1 || len(records) < minChunk*2 {
		return Aggregate(records, p.years, spec)
	}
	chunks := splitChunks(records, p.workers)
	tables := make([]*table[DetailRecord], len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			t := newTable(p.years, spec, len(chunk))
			for _, rec := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := t.add(rec); err != nil {
					return err
				}
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := tables[0]
	for _, t := range tables[1:] {
		merged.merge(t)
	}
	return merged.result(), nil
}

func splitChunks(records []DetailRecord, workers int) [][]DetailRecord {
	size := (len(records) + workers - 1) / workers
	if size < minChunk {
		size = minChunk
	}
	chunks := make([][]DetailRecord, 0, workers)
	for lo := 0; lo < len(records); lo += size {
		hi := min(lo+size, len(records))
		chunks = append(chunks, records[lo:hi])
	}
	return chunks
}

// ProductSpec prorates detail records into product level rows.
func ProductSpec() AggregateSpec[DetailRecord] {
	return AggregateSpec[DetailRecord]{
		Key: func(r DetailRecord) Key { return KeyFor(r, LevelProduct) },
		Seed: func(r DetailRecord) Row {
			return Row{
				Pod:           r.Pod,
				Owner:         r.Owner,
				Account:       r.Account,
				ProductFamily: r.ProductFamily,
				ProductLine:   r.ProductLine,
			}
		},
		Amount: func(r DetailRecord, year int) (decimal.Decimal, error) {
			v, err := Prorate(r.Amount, r.StartDate, r.EndDate, year)
			if err != nil {
				return decimal.Zero, fmt.Errorf("prorate %q/%q/%q: %w", r.Owner, r.Account, r.ProductLine, err)
			}
			return v, nil
		},
	}
}

// AccountSpec rolls product level rows up to account level rows.
func AccountSpec() AggregateSpec[Row] {
	return AggregateSpec[Row]{
		Key: func(r Row) Key { return KeyFor(r, LevelAccount) },
		Seed: func(r Row) Row {
			return Row{Pod: r.Pod, Owner: r.Owner, Account: r.Account}
		},
		Amount: func(r Row, year int) (decimal.Decimal, error) {
			return r.For(year), nil
		},
	}
}
