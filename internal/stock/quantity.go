package stock

import (
	"regexp"
	"strconv"
	"strings"
)

// AvailabilityPhrase is the fixed text the site prints after the real stock
// count when a requested quantity is rejected.
const AvailabilityPhrase = "disponíveis para compra"

var quantityPatterns = []*regexp.Regexp{
	// "13 disponíveis para compra", "1 disponível para compra", "1.250 disponiveis para compra"
	regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d{3})+|\d+)\s*(?:unidades?\s+)?dispon[ií]ve(?:l|is)\s+para\s+(?:a\s+)?compra`),
	// "disponíveis para compra: 13"
	regexp.MustCompile(`(?i)dispon[ií]ve(?:l|is)\s+para\s+compra\s*:\s*(\d{1,3}(?:\.\d{3})+|\d+)`),
}

// ParseAvailableQuantity extracts the stock count from the site's cart
// validation message. ok is false when the message does not carry a count.
func ParseAvailableQuantity(message string) (qty int, ok bool) {
	msg := normalizeSpace(message)
	if msg == "" {
		return 0, false
	}

	for _, re := range quantityPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ".", ""))
		if err != nil || n < 0 {
			continue
		}
		return n, true
	}

	return 0, false
}

// normalizeSpace folds non-breaking spaces and runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u00a0', '\u2007', '\u202f':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
