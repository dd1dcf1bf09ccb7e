package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"igharvest/pkg/config"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/logger"
)

const (
	// DefaultBaseURL is the OpenAI API root
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o-mini"

	chatCompletionsPath = "/chat/completions"
	maxResponseBytes    = 4 << 20
)

// Options configures a Client
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Logger      logger.Logger
}

// OptionsFromConfig builds Options from the llm section of the configuration
func OptionsFromConfig(cfg config.LLMConfig, log logger.Logger) Options {
	return Options{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Logger:      log,
	}
}

// Client sends single-turn prompts to an OpenAI-compatible chat
// completions endpoint. It does not retry.
type Client struct {
	opts       Options
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a completion client. An API key is required.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		opts:       opts,
		endpoint:   strings.TrimRight(opts.BaseURL, "/") + chatCompletionsPath,
		httpClient: hc,
		logger:     opts.Logger.WithField("component", "llm"),
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.opts.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends prompt as a single user message and returns the text of
// the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", errs.New(errs.ErrorTypeExtraction, 0, "failed to encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errs.New(errs.ErrorTypeExtraction, 0, "failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnWithFields("completion request failed", map[string]interface{}{
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return "", errs.New(errs.ErrorTypeNetwork, 0, "completion request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read completion response: %v", err)
	}

	c.logger.DebugWithFields("completion request completed", map[string]interface{}{
		"status":   resp.StatusCode,
		"model":    c.opts.Model,
		"bytes":    len(body),
		"duration": time.Since(start),
	})

	var parsed chatResponse
	parseErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parseErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", errs.New(statusErrorType(resp.StatusCode), resp.StatusCode, "completion failed: %s", msg)
	}
	if parseErr != nil {
		return "", errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse completion response: %v", parseErr)
	}
	if len(parsed.Choices) == 0 {
		return "", errs.New(errs.ErrorTypeExtraction, resp.StatusCode, "completion returned no choices")
	}

	choice := parsed.Choices[0]
	if choice.Message != nil && choice.Message.Content != "" {
		return choice.Message.Content, nil
	}
	return choice.Text, nil
}

func statusErrorType(status int) errs.ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		return errs.ErrorTypeRateLimit
	case status >= 500:
		return errs.ErrorTypeServerError
	default:
		return errs.ErrorTypeExtraction
	}
}
