package stock

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// pageFacts are the display fields read from a rendered product page.
type pageFacts struct {
	title         string
	titleStrategy Strategy
	price         string
	priceStrategy Strategy
}

// extractFacts reads title and price from page HTML. Both are best effort.
func extractFacts(html string, sel Selectors) (pageFacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pageFacts{}, err
	}

	var facts pageFacts
	facts.title, facts.titleStrategy = firstText(doc, sel.Title, cleanTitle)
	facts.price, facts.priceStrategy = firstText(doc, sel.Price, cleanPrice)
	return facts, nil
}

// extractMessage finds the cart validation message in page HTML. It tries
// the message chain first and then falls back to the deepest element whose
// text carries the availability phrase.
func extractMessage(html string, sel Selectors) (string, Strategy, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", Strategy{}, err
	}

	if msg, s := firstText(doc, sel.Message, normalizeSpace); msg != "" {
		return msg, s, nil
	}

	var found string
	doc.Find("p, div, span").Each(func(_ int, node *goquery.Selection) {
		text := normalizeSpace(node.Text())
		if containsPhrase(text) && (found == "" || len(text) <= len(found)) {
			found = text
		}
	})
	if found != "" {
		return found, Strategy{Name: "phrase-scan", Selector: "p, div, span"}, nil
	}
	return "", Strategy{}, nil
}

// firstText returns the first non-empty cleaned text matched by the chain.
func firstText(doc *goquery.Document, chain Chain, clean func(string) string) (string, Strategy) {
	for _, s := range chain {
		var text string
		doc.Find(s.Selector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text = clean(node.Text())
			return text == ""
		})
		if text != "" {
			return text, s
		}
	}
	return "", Strategy{}
}

func cleanTitle(s string) string {
	return normalizeSpace(s)
}

// cleanPrice strips the material icon label the site renders next to the
// price and makes sure the value is tagged with its currency.
func cleanPrice(s string) string {
	s = normalizeSpace(strings.ReplaceAll(s, "info_outline", ""))
	if !strings.ContainsFunc(s, unicode.IsDigit) {
		return ""
	}
	if !strings.Contains(s, "R$") {
		s = "R$ " + s
	}
	return s
}

func containsPhrase(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, AvailabilityPhrase) ||
		strings.Contains(lower, "disponiveis para compra") ||
		strings.Contains(lower, "disponível para compra")
}
