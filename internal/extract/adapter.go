package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"igharvest/pkg/config"
	"igharvest/pkg/logger"
	"igharvest/pkg/models"
	"igharvest/pkg/retry"
)

// productNamespace seeds product ids derived from their identity fields.
var productNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("igharvest/products"))

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OCR extracts text from image bytes. Failures are ignored.
type OCR interface {
	Text(ctx context.Context, image []byte) (string, error)
}

// NopOCR never finds text.
type NopOCR struct{}

// Text implements OCR.
func (NopOCR) Text(context.Context, []byte) (string, error) { return "", nil }

// Request is one image to extract products from.
type Request struct {
	Image      []byte
	SourceKind string
	SourceID   string
	Meta       Metadata
}

// Options configures an Adapter
type Options struct {
	Completer      Completer
	OCR            OCR
	Retries        int
	RetryBaseDelay time.Duration
	MaxImageChars  int
	Logger         logger.Logger
}

// OptionsFromConfig fills retry and prompt settings from the llm section.
func OptionsFromConfig(cfg config.LLMConfig, completer Completer, log logger.Logger) Options {
	return Options{
		Completer:      completer,
		Retries:        cfg.Retries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		MaxImageChars:  cfg.MaxImageChars,
		Logger:         log,
	}
}

// Adapter asks a Completer for the products in an image and turns the
// answer into product records. It never returns an error: any failure
// yields no products.
type Adapter struct {
	completer     Completer
	ocr           OCR
	retries       int
	baseDelay     time.Duration
	maxImageChars int
	logger        logger.Logger
}

// New creates an Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if opts.OCR == nil {
		opts.OCR = NopOCR{}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.MaxImageChars <= 0 {
		opts.MaxImageChars = 12000
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Adapter{
		completer:     opts.Completer,
		ocr:           opts.OCR,
		retries:       opts.Retries,
		baseDelay:     opts.RetryBaseDelay,
		maxImageChars: opts.MaxImageChars,
		logger:        opts.Logger.WithField("component", "extract"),
	}, nil
}

// Extract returns the products recognized in req.Image.
func (a *Adapter) Extract(ctx context.Context, req Request) []models.Product {
	fields := map[string]interface{}{
		"source_kind": req.SourceKind,
		"source_id":   req.SourceID,
	}

	ocrText, err := a.ocr.Text(ctx, req.Image)
	if err != nil {
		a.logger.DebugWithFields("OCR failed, continuing without text", withErr(fields, err))
		ocrText = ""
	}

	prompt := BuildPrompt(req.Image, req.Meta, ocrText, a.maxImageChars)

	// completions run to their own deadline even when the caller stops
	callCtx := context.WithoutCancel(ctx)
	text, err := retry.DoWithResult(callCtx, func(ctx context.Context) (string, error) {
		return a.completer.Complete(ctx, prompt)
	}, retry.WithRetries(a.retries, a.baseDelay, a.logger))
	if err != nil {
		a.logger.WarnWithFields("Extraction failed after retries", withErr(fields, err))
		return nil
	}

	elements, ok := parseArray(text)
	if !ok {
		a.logger.WarnWithFields("Unparseable extraction output", map[string]interface{}{
			"source_id": req.SourceID,
			"output":    preview(text),
		})
		return nil
	}

	digest := ""
	if len(req.Image) > 0 {
		digest = fmt.Sprintf("%016x", xxhash.Sum64(req.Image))
	}

	products := make([]models.Product, 0, len(elements))
	for _, raw := range elements {
		it, ok := normalizeElement(raw)
		if !ok {
			continue
		}
		p := models.Product{
			ID:          ProductID(req.SourceKind, req.SourceID, it.title),
			ProviderID:  it.providerID,
			Title:       it.title,
			ImageURL:    it.imageURL,
			Description: it.description,
			SourceKind:  req.SourceKind,
			SourceID:    req.SourceID,
			MediaDigest: digest,
			Raw:         it.raw,
		}
		p.MarketPrices = make([]models.MarketPrice, 0, len(it.prices))
		for _, pr := range it.prices {
			p.MarketPrices = append(p.MarketPrices, models.MarketPrice{Market: pr.market, Price: pr.value})
		}
		products = append(products, p)
	}

	a.logger.DebugWithFields("Extraction completed", map[string]interface{}{
		"source_id": req.SourceID,
		"elements":  len(elements),
		"products":  len(products),
	})
	return products
}

// ProductID derives the stable id of a product from its source and title.
func ProductID(kind, sourceID, title string) string {
	key := kind + "\x00" + sourceID + "\x00" + strings.ToLower(strings.TrimSpace(title))
	return uuid.NewSHA1(productNamespace, []byte(key)).String()
}

func withErr(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
