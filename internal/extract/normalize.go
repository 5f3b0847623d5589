package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

var (
	decimalRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	thousandsRe  = regexp.MustCompile(`,(\d{3})`)
	currencyCode = regexp.MustCompile(`\b[A-Z]{3}\b`)
)

// symbolCurrencies maps recognizable currency symbols to ISO 4217 codes.
// The first symbol found in the price text decides the record currency;
// conversion to USD is out of scope.
var symbolCurrencies = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
}

// NormalizePrice strips currency symbols and thousands separators from
// raw price text and parses the first decimal number. The returned
// currency is the detected one, or defaultCurrency when no non-USD
// marker is present. ok is false when no number could be extracted.
func NormalizePrice(raw, defaultCurrency string) (amount float64, code string, ok bool) {
	code = defaultCurrency
	if code == "" {
		code = "USD"
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, code, false
	}

	for _, sc := range symbolCurrencies {
		if strings.Contains(text, sc.symbol) {
			code = sc.code
			break
		}
	}
	// Explicit ISO codes in the text ("1 299 EUR") win over symbols.
	if m := currencyCode.FindString(text); m != "" {
		if _, err := currency.ParseISO(m); err == nil {
			code = m
		}
	}

	// "1,299.99" -> "1299.99"
	cleaned := thousandsRe.ReplaceAllString(text, "$1")
	num := decimalRe.FindString(cleaned)
	if num == "" {
		return 0, code, false
	}
	amount, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, code, false
	}
	return amount, code, true
}

// NormalizeRating extracts the first decimal from rating text ("4.8 out
// of 5 stars") and clamps it to [0, 5]. Returns nil when no number is
// present.
func NormalizeRating(raw string) *float64 {
	num := decimalRe.FindString(raw)
	if num == "" {
		return nil
	}
	rating, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	return &rating
}

// ResolveURL makes href absolute against the page URL. data: URIs and
// unparseable references resolve to "".
func ResolveURL(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "data:") {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
