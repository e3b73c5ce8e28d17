package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"receiptiq/backend/internal/engine"
)

var (
	reAmount   = regexp.MustCompile(`\d{1,3}(?:,\d{3})*\.\d{2}|\d+\.\d{2}`)
	reCurrency = regexp.MustCompile(`[$£€]\s*\d|(?i)\b(usd|eur|gbp|cad|aud)\b`)
	reDateTok  = regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b|\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b|\b(?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b|\b\d{1,2}\s+(?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4}\b`)
	rePhone    = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	reLetters  = regexp.MustCompile(`[A-Za-z]{2,}`)
)

// dateLayouts are tried in order; the first successful parse wins.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// totalKeywords mark the line most likely to carry the grand total.
// Subtotal lines are deliberately excluded.
var totalKeywords = []string{"grand total", "amount due", "balance due", "total due", "total"}

// nonItemKeywords exclude settlement and summary lines from line items.
var nonItemKeywords = []string{
	"total", "subtotal", "sub-total", "tax", "vat", "change", "cash",
	"card", "credit", "debit", "tender", "balance", "due", "tip", "gratuity",
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

// normalizeMerchant picks the best-match merchant line: the first line with
// real words that is not a date, amount, or phone number. Receipts print
// the merchant at the top, so earlier lines win.
func normalizeMerchant(lines []string) string {
	for _, l := range lines {
		if !reLetters.MatchString(l) {
			continue
		}
		if reDateTok.MatchString(l) || rePhone.MatchString(l) {
			continue
		}
		if reAmount.MatchString(l) {
			continue
		}
		return strings.TrimSpace(l)
	}
	return ""
}

// normalizeDate scans for date-looking tokens and tries each known layout;
// the first token that parses under any layout wins. A field that cannot
// be parsed stays absent.
func normalizeDate(text string) *time.Time {
	for _, tok := range reDateTok.FindAllString(text, -1) {
		tok = strings.TrimSpace(tok)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, tok); err == nil {
				return &t
			}
		}
	}
	return nil
}

// normalizeTotal finds the grand total: the largest currency-like amount on
// a line carrying a total keyword, falling back to the largest amount on
// the whole receipt. Subtotals never shadow the real total because keyword
// matching skips "subtotal" lines and the fallback takes the maximum.
func normalizeTotal(lines []string) *float64 {
	var keywordBest *float64
	var anyBest *float64

	for _, l := range lines {
		lower := strings.ToLower(l)
		amounts := parseAmounts(l)
		if len(amounts) == 0 {
			continue
		}

		max := amounts[0]
		for _, a := range amounts[1:] {
			if a > max {
				max = a
			}
		}

		if anyBest == nil || max > *anyBest {
			v := max
			anyBest = &v
		}

		if strings.Contains(lower, "subtotal") || strings.Contains(lower, "sub-total") {
			continue
		}
		for _, kw := range totalKeywords {
			if strings.Contains(lower, kw) {
				if keywordBest == nil || max > *keywordBest {
					v := max
					keywordBest = &v
				}
				break
			}
		}
	}

	if keywordBest != nil {
		return keywordBest
	}
	return anyBest
}

// normalizeLineItems extracts "<name> .... <amount>" lines, best effort.
// Settlement and summary lines are skipped; an empty list is valid.
func normalizeLineItems(lines []string) []LineItem {
	var items []LineItem
	for _, l := range lines {
		lower := strings.ToLower(l)
		if containsAny(lower, nonItemKeywords) {
			continue
		}

		loc := reAmount.FindStringIndex(l)
		if loc == nil {
			continue
		}
		// Amount must end the line for it to look like a priced item.
		if strings.TrimSpace(l[loc[1]:]) != "" && !reCurrency.MatchString(l[loc[1]:]) {
			continue
		}

		name := strings.TrimSpace(strings.Trim(l[:loc[0]], " .-:$£€"))
		if !reLetters.MatchString(name) {
			continue
		}

		amount, err := parseAmount(l[loc[0]:loc[1]])
		if err != nil {
			continue
		}
		items = append(items, LineItem{Name: name, Amount: amount})
	}
	return items
}

func parseAmounts(line string) []float64 {
	var out []float64
	for _, tok := range reAmount.FindAllString(line, -1) {
		if v, err := parseAmount(tok); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func parseAmount(tok string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(tok, ",", ""), 64)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// fieldConfidence looks up the recognition confidence of the words backing
// a normalized value. Confidence comes straight from the engine; when no
// word matches, the overall recognition confidence stands in.
func fieldConfidence(value string, words []engine.WordConfidence, overall float32) float32 {
	if value == "" || len(words) == 0 {
		return overall
	}

	var sum float32
	var n int
	for _, tok := range strings.Fields(value) {
		for _, w := range words {
			if strings.EqualFold(w.Word, tok) {
				sum += w.Confidence
				n++
				break
			}
		}
	}
	if n == 0 {
		return overall
	}
	return sum / float32(n)
}
