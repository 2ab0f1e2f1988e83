package core

// CurrencyInfo describes one currency. MinorUnits is the number of decimal
// places of its smallest unit.
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int
}

// CurrencyTable is an immutable currency lookup, built once at process start
// and passed to the components that need it. There is deliberately no way to
// add entries after construction.
type CurrencyTable struct {
	byCode map[Currency]CurrencyInfo
}

// NewCurrencyTable builds a table from the given definitions
func NewCurrencyTable(infos []CurrencyInfo) *CurrencyTable {
	byCode := make(map[Currency]CurrencyInfo, len(infos))
	for _, info := range infos {
		byCode[info.Code] = info
	}
	return &CurrencyTable{byCode: byCode}
}

// Get returns the definition for a currency code
func (t *CurrencyTable) Get(code Currency) (CurrencyInfo, bool) {
	info, ok := t.byCode[code]
	return info, ok
}

// MinorUnits returns the decimal places for a currency, defaulting to 2 for
// unknown codes
func (t *CurrencyTable) MinorUnits(code Currency) int {
	if info, ok := t.byCode[code]; ok {
		return info.MinorUnits
	}
	return 2
}

// DefaultCurrencyTable covers the majors this system trades
func DefaultCurrencyTable() *CurrencyTable {
	return NewCurrencyTable([]CurrencyInfo{
		{Code: "USD", MinorUnits: 2},
		{Code: "EUR", MinorUnits: 2},
		{Code: "GBP", MinorUnits: 2},
		{Code: "CHF", MinorUnits: 2},
		{Code: "JPY", MinorUnits: 0},
		{Code: "AUD", MinorUnits: 2},
		{Code: "CAD", MinorUnits: 2},
		{Code: "NZD", MinorUnits: 2},
		{Code: "SEK", MinorUnits: 2},
		{Code: "NOK", MinorUnits: 2},
	})
}
