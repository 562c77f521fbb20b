package sources

import "strings"

// knownTypos maps frequently mistyped tickers to the symbol the user meant.
var knownTypos = map[string]string{
	"APPL": "AAPL",
}

// NormalizeSymbol uppercases, trims and corrects common ticker typos. It is
// applied once, before any adapter is called.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if fixed, ok := knownTypos[s]; ok {
		return fixed
	}
	return s
}
