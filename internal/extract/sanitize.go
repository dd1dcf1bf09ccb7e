package extract

import (
	"bytes"
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const logPreviewChars = 2000

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z0-9_-]*[ \t]*\r?\n?")
	fenceClose = regexp.MustCompile("\r?\n?```$")
	spaces     = regexp.MustCompile(`\s+`)
	textPolicy = bluemonday.StrictPolicy()
)

// stripFence removes one surrounding Markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// parseArray extracts the elements of the JSON array in a completion.
// ok is false when no JSON could be parsed at all; a valid non-array
// yields no elements and ok true.
func parseArray(text string) (elements []json.RawMessage, ok bool) {
	cleaned := stripFence(text)

	if elements, valid := decodeArray(cleaned); valid {
		return elements, true
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start >= 0 && end > start {
		if elements, valid := decodeArray(cleaned[start : end+1]); valid {
			return elements, true
		}
	}
	return nil, false
}

// decodeArray reports valid for any well-formed JSON document and returns
// elements only for arrays.
func decodeArray(s string) ([]json.RawMessage, bool) {
	var doc json.RawMessage
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, false
	}
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, true
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, false
	}
	return elements, true
}

// item is one normalized element of the completion.
type item struct {
	providerID  string
	title       string
	prices      []price
	imageURL    string
	description string
	raw         json.RawMessage
}

type price struct {
	market string
	value  float64
}

// normalizeElement reads an object element. ok is false for non-objects
// and for objects without a usable title.
func normalizeElement(raw json.RawMessage) (item, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return item{}, false
	}

	it := item{
		providerID:  scalarString(first(obj, "id")),
		title:       cleanText(scalarString(first(obj, "title", "name"))),
		imageURL:    strings.TrimSpace(scalarString(first(obj, "imageUrl", "image_url"))),
		description: cleanText(scalarString(first(obj, "description"))),
		prices:      parsePrices(first(obj, "marketPrices", "market_prices")),
		raw:         raw,
	}
	if it.title == "" {
		return item{}, false
	}
	return it, true
}

func first(obj map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := obj[k]; ok && string(v) != "null" {
			return v
		}
	}
	return nil
}

// scalarString renders a JSON string or number as text; anything else is "".
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parsePrices(raw json.RawMessage) []price {
	if len(raw) == 0 {
		return nil
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	var out []price
	for _, e := range entries {
		market := cleanText(scalarString(first(e, "market")))
		value, ok := parsePrice(first(e, "price"))
		if market == "" || !ok {
			continue
		}
		out = append(out, price{market: market, value: value})
	}
	return out
}

// parsePrice accepts 1.99, "1.99", "1,99", "R$ 1,99" and ".99".
func parsePrice(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(scalarString(raw))
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return 0, false
	}
	// a separator directly before the first digit is a decimal point
	if start > 0 && (s[start-1] == '.' || s[start-1] == ',') {
		start--
	}
	if start > 0 && s[start-1] == '-' {
		start--
	}
	s = strings.TrimRightFunc(s[start:], func(r rune) bool { return !isDigit(r) })
	// the last separator is the decimal one: 1.234,56 and 1,234.56
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma > dot:
		s = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	case comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// cleanText drops markup and collapses whitespace.
func cleanText(s string) string {
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func preview(s string) string {
	if len(s) <= logPreviewChars {
		return s
	}
	cut := logPreviewChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
