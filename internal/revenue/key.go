package revenue

// Level selects the grouping granularity of an aggregation pass.
type Level int

const (
	// LevelProduct groups by owner, account and product line.
	LevelProduct Level = iota + 1
	// LevelAccount groups by owner and account.
	LevelAccount
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelProduct:
		return "product"
	case LevelAccount:
		return "account"
	default:
		return "unknown"
	}
}

// ParseLevel maps "product" or "account" to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "product", "":
		return LevelProduct, true
	case "account", "summary":
		return LevelAccount, true
	default:
		return 0, false
	}
}

// Keyed is implemented by records that can be grouped.
type Keyed interface {
	KeyFields() (owner, account, productLine string)
}

// Key is the composite grouping key. It is comparable; two keys are equal only
// when every field, including the level, is identical.
type Key struct {
	Level       Level  `json:"level"`
	Owner       string `json:"owner"`
	Account     string `json:"account"`
	ProductLine string `json:"product_line,omitempty"`
}

// KeyFor derives the key of rec for the given level. Strings are compared
// verbatim: no trimming or case folding happens here.
func KeyFor(rec Keyed, level Level) Key {
	owner, account, line := rec.KeyFields()
	key := Key{Level: level, Owner: owner, Account: account}
	if level == LevelProduct {
		key.ProductLine = line
	}
	return key
}
