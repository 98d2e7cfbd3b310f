package identity

// maskKeepLeading and maskKeepTrailing bound how many digits of a tax id
// survive masking. Enough remains to correlate a registration with external
// paperwork without exposing the full document number.
const (
	maskKeepLeading  = 2
	maskKeepTrailing = 6
)

// MaskTaxID replaces the middle digits of a tax id with asterisks while
// preserving punctuation and the leading/trailing digits:
// "12.345.678/0001-00" becomes "12.***.***/0001-00".
func MaskTaxID(taxID string) string {
	runes := []rune(taxID)
	total := 0
	for _, r := range runes {
		if r >= '0' && r <= '9' {
			total++
		}
	}
	if total <= maskKeepLeading+maskKeepTrailing {
		return taxID
	}

	seen := 0
	for i, r := range runes {
		if r < '0' || r > '9' {
			continue
		}
		seen++
		if seen > maskKeepLeading && seen <= total-maskKeepTrailing {
			runes[i] = '*'
		}
	}
	return string(runes)
}
