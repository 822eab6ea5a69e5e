package stock

import (
	"context"
	"strings"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// Strategy is one named way of finding an element.
type Strategy struct {
	Name     string
	Selector string
}

// Chain is an ordered list of strategies; the first match wins.
type Chain []Strategy

// Locate asks the driver for each selector in order and returns the first
// strategy that matches. Only fatal driver errors and context expiry abort
// the search.
func (c Chain) Locate(ctx context.Context, d browser.Driver) (Strategy, bool, error) {
	for _, s := range c {
		ok, err := d.Exists(ctx, s.Selector)
		if err != nil {
			if browser.IsFatal(err) || ctx.Err() != nil {
				return Strategy{}, false, err
			}
			continue
		}
		if ok {
			return s, true, nil
		}
	}
	return Strategy{}, false, nil
}

// Union joins every selector into one comma-separated selector list. The
// parts must be CSS (playwright pseudo-classes allowed); an engine prefix
// such as text= only works at the start of a whole selector.
func (c Chain) Union() string {
	parts := make([]string, 0, len(c))
	for _, s := range c {
		parts = append(parts, s.Selector)
	}
	return strings.Join(parts, ", ")
}

// Selectors groups the strategy chains for every element the login and
// probe flows touch. Driver chains may use playwright selector syntax;
// the document chains (Title, Price, Message) must be plain CSS because
// they run against the page HTML.
type Selectors struct {
	LoginAffordance Chain
	EmailField      Chain
	PasswordField   Chain
	QuantityField   Chain
	PurchaseButton  Chain
	MessageWait     Chain

	Title   Chain
	Price   Chain
	Message Chain
}

func DefaultSelectors() Selectors {
	return Selectors{
		LoginAffordance: Chain{
			{Name: "not-authenticated-button", Selector: `button[class*="AddToCartContainer__buyButtonNotAuthenticated"]`},
			{Name: "access-to-buy-text", Selector: `button:has-text("ACESSE PARA COMPRAR")`},
		},
		EmailField: Chain{
			{Name: "email-type", Selector: `input[type="email"]`},
			{Name: "email-name", Selector: `input[name="email"]`},
			{Name: "email-placeholder", Selector: `input[placeholder*="mail" i]`},
		},
		PasswordField: Chain{
			{Name: "password-type", Selector: `input[type="password"]`},
			{Name: "password-name", Selector: `input[name="password"]`},
			{Name: "senha-name", Selector: `input[name="senha"]`},
		},
		QuantityField: Chain{
			{Name: "number-placeholder-zero", Selector: `input[type="number"][placeholder="0"]`},
			{Name: "add-to-cart-number", Selector: `[class*="AddToCart"] input[type="number"]`},
		},
		PurchaseButton: Chain{
			{Name: "adding-product-button", Selector: `button[class*="AddToCartButton__addingProduct"]`},
			{Name: "comprar-text", Selector: `button[class*="AddToCartButton"]:has-text("COMPRAR")`},
		},
		MessageWait: Chain{
			{Name: "add-to-cart-error", Selector: `div[class*="AddToCartError__container"]`},
			{Name: "availability-text", Selector: `:text("` + AvailabilityPhrase + `")`},
		},
		Title: Chain{
			{Name: "heading", Selector: "h1"},
			{Name: "product-name-class", Selector: `[class*="ProductName"]`},
		},
		Price: Chain{
			{Name: "add-to-cart-price", Selector: `h3[class*="AddToCartContainer__price"]`},
			{Name: "price-heading", Selector: `h3[class*="price"]`},
			{Name: "price-class", Selector: `[class*="price"]`},
		},
		Message: Chain{
			{Name: "add-to-cart-error-message", Selector: `div[class*="AddToCartError__container"] p[class*="AddToCartError__message"]`},
			{Name: "add-to-cart-error-container", Selector: `div[class*="AddToCartError__container"]`},
		},
	}
}
