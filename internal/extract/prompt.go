package extract

import (
	"encoding/base64"
	"strings"
	"time"
)

const instruction = `You will be given metadata about an image and a base64 prefix of the image.
Extract supermarket products depicted in the image and return a JSON array of
objects matching this interface:

[
  {
    "id": "<unique id>",
    "title": "<product title>",
    "marketPrices": [{"market": "<market>", "price": <number>}],
    "imageUrl": "<optional image url>",
    "description": "<short description>"
  }
]

Respond with a single JSON array and nothing else: no prose, no Markdown.
If no products are visible, respond with [].`

// Metadata is the context sent along with an image.
type Metadata struct {
	Account    string
	Shortcode  string
	TakenAt    time.Time
	Locator    string
	MarketHint string
}

// BuildPrompt assembles the completion prompt. The base64 image is cut to
// maxImageChars characters.
func BuildPrompt(image []byte, meta Metadata, ocrText string, maxImageChars int) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nContext:\n")
	writeField(&b, "Account", meta.Account)
	writeField(&b, "Shortcode", meta.Shortcode)
	if !meta.TakenAt.IsZero() {
		writeField(&b, "CapturedAt", meta.TakenAt.UTC().Format(time.RFC3339))
	}
	writeField(&b, "MediaURL", meta.Locator)
	writeField(&b, "MarketHint", meta.MarketHint)

	if text := strings.TrimSpace(ocrText); text != "" {
		b.WriteString("\nText found in the image:\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	encoded := base64.StdEncoding.EncodeToString(image)
	if maxImageChars > 0 && len(encoded) > maxImageChars {
		encoded = encoded[:maxImageChars]
	}
	b.WriteString("\nBase64ImagePrefix: ")
	b.WriteString(encoded)
	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString("- ")
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
