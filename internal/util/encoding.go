package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier folds compatibility forms (full-width digits, ligatures)
// and trims surrounding space so the same account typed on different
// keyboards maps to one key.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
