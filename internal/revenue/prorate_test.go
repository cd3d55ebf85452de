package revenue

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s got %s %v", want, got.String(), msgAndArgs)
}

func TestProrateConcreteScenarios(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		start  time.Time
		end    time.Time
		year   int
		want   string
	}{
		{"full year", "7300", date(2019, 1, 1), date(2019, 12, 31), 2019, "7300.00"},
		{"leap span first half", "3660", date(2019, 7, 2), date(2020, 7, 1), 2019, "1830.00"},
		{"leap span second half", "3660", date(2019, 7, 2), date(2020, 7, 1), 2020, "1830.00"},
		{"mid year split 2020", "1000", date(2020, 7, 1), date(2021, 6, 30), 2020, "504.11"},
		{"mid year split 2021", "1000", date(2020, 7, 1), date(2021, 6, 30), 2021, "495.89"},
		{"single day", "12.34", date(2021, 3, 3), date(2021, 3, 3), 2021, "12.34"},
		{"repeating thirds", "100", date(2019, 12, 30), date(2020, 1, 1), 2019, "66.67"},
		{"repeating thirds tail", "100", date(2019, 12, 30), date(2020, 1, 1), 2020, "33.33"},
		{"credit", "-3660", date(2019, 7, 2), date(2020, 7, 1), 2020, "-1830.00"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prorate(dec(tt.amount), tt.start, tt.end, tt.year)
			require.NoError(t, err)
			requireAmount(t, tt.want, got)
		})
	}
}

func TestProrateRoundsHalfAwayFromZero(t *testing.T) {
	// 0.05 over two days leaves exactly 0.025 in each year.
	got, err := Prorate(dec("0.05"), date(2019, 12, 31), date(2020, 1, 1), 2019)
	require.NoError(t, err)
	requireAmount(t, "0.03", got)

	got, err = Prorate(dec("-0.05"), date(2019, 12, 31), date(2020, 1, 1), 2020)
	require.NoError(t, err)
	requireAmount(t, "-0.03", got)

	// A full-year amount is rounded with the same rule.
	got, err = Prorate(dec("10.005"), date(2022, 1, 1), date(2022, 12, 31), 2022)
	require.NoError(t, err)
	requireAmount(t, "10.01", got)
}

func TestProrateFullYearContainment(t *testing.T) {
	amount := dec("98765.4321")
	for _, year := range []int{2016, 2019, 2020, 2023} {
		start, end := date(year, 1, 1), date(year, 12, 31)
		got, err := Prorate(amount, start, end, year)
		require.NoError(t, err)
		requireAmount(t, amount.Round(2).String(), got)
		for _, other := range []int{year - 1, year + 1, year + 5} {
			got, err := Prorate(amount, start, end, other)
			require.NoError(t, err)
			require.True(t, got.IsZero(), "year %d should receive nothing", other)
		}
	}
}

func TestProrateNonOverlapYieldsZero(t *testing.T) {
	got, err := Prorate(dec("500"), date(2021, 2, 1), date(2021, 3, 1), 2020)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	got, err = Prorate(dec("500"), date(2018, 2, 1), date(2018, 3, 1), 2020)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestProrateRejectsInvertedRange(t *testing.T) {
	_, err := Prorate(dec("1"), date(2020, 5, 2), date(2020, 5, 1), 2020)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidDateRange))
}

func TestProrateIgnoresTimeOfDay(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*60*60)
	start := time.Date(2019, 7, 2, 23, 30, 0, 0, zone)
	end := time.Date(2020, 7, 1, 0, 15, 0, 0, zone)
	got, err := Prorate(dec("3660"), start, end, 2019)
	require.NoError(t, err)
	requireAmount(t, "1830.00", got)
}

func TestProrateSharesSumToTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		start := date(2014, 1, 1).AddDate(0, 0, rng.Intn(3000))
		end := start.AddDate(0, 0, rng.Intn(1500))
		amount := decimal.New(rng.Int63n(20_000_000)-5_000_000, -2)

		sum := decimal.Zero
		for year := start.Year(); year <= end.Year(); year++ {
			v, err := Prorate(amount, start, end, year)
			require.NoError(t, err)
			sum = sum.Add(v)
		}
		years := int64(end.Year() - start.Year() + 1)
		tolerance := decimal.New(years*5, -3)
		diff := sum.Sub(amount.Round(2)).Abs()
		require.Truef(t, diff.LessThanOrEqual(tolerance),
			"amount %s %s..%s summed to %s", amount, start.Format(time.DateOnly), end.Format(time.DateOnly), sum)
	}
}

func TestProrateSplitYearSumsToAmount(t *testing.T) {
	amount := dec("1000")
	start, end := date(2020, 7, 1), date(2021, 6, 30)
	first, err := Prorate(amount, start, end, 2020)
	require.NoError(t, err)
	second, err := Prorate(amount, start, end, 2021)
	require.NoError(t, err)
	requireAmount(t, "504.11", first)
	requireAmount(t, "495.89", second)
	diff := first.Add(second).Sub(amount).Abs()
	require.True(t, diff.LessThanOrEqual(dec("0.01")), "shares summed to %s", first.Add(second))
}

func TestDaysInclusive(t *testing.T) {
	require.EqualValues(t, 366, DaysInclusive(date(2019, 7, 2), date(2020, 7, 1)))
	require.EqualValues(t, 1, DaysInclusive(date(2020, 2, 29), date(2020, 2, 29)))
	require.EqualValues(t, 0, DaysInclusive(date(2020, 3, 1), date(2020, 2, 29)))
}
