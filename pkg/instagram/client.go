package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
	"igharvest/pkg/config"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/logger"
	"igharvest/pkg/ratelimit"
	"igharvest/pkg/retry"
)

// maxMediaBytes bounds a single media download
const maxMediaBytes = 200 << 20

// Options configures a Client
type Options struct {
	BaseURL    string
	UserAgent  string
	AppID      string
	Timeout    time.Duration
	MaxRetries int
	// Backoff between retried reads; nil uses retry.DefaultExponentialBackoff
	Backoff retry.BackoffStrategy
	// Limiter paces every outbound request; nil means unlimited
	Limiter ratelimit.Limiter
	// SafeMediaFetch downloads media bytes through an SSRF-guarded client
	SafeMediaFetch bool
	// MediaClient overrides the client used for media bytes
	MediaClient *http.Client
	Logger      logger.Logger
}

// OptionsFromConfig builds Options from the application configuration
func OptionsFromConfig(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) Options {
	return Options{
		BaseURL:        BaseURL,
		UserAgent:      cfg.Instagram.UserAgent,
		AppID:          cfg.Instagram.AppID,
		Timeout:        cfg.Instagram.RequestTimeout,
		MaxRetries:     cfg.Instagram.MaxRetries,
		Limiter:        limiter,
		SafeMediaFetch: cfg.Instagram.SafeMediaFetch,
		Logger:         log,
	}
}

type twoFactorState struct {
	username   string
	identifier string
}

// Client talks to the Instagram web API on behalf of at most one account.
// It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	mediaClient *http.Client
	jar         http.CookieJar
	headers     map[string]string
	baseURL     *url.URL
	limiter     ratelimit.Limiter
	retry       *retry.Config
	logger      logger.Logger

	mu       sync.Mutex
	username string
	userID   string
	pending  *twoFactorState
}

// NewClient creates a new Instagram API client
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.AppID == "" {
		opts.AppID = DefaultAppID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultExponentialBackoff()
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// A redirect to the login page means the session is not accepted
			if strings.HasPrefix(req.URL.Path, LoginPageEndpoint) {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	mediaClient := opts.MediaClient
	if mediaClient == nil {
		if opts.SafeMediaFetch {
			safeCfg := safeurl.GetConfigBuilder().
				SetTimeout(opts.Timeout).
				SetAllowedSchemes("http", "https").
				SetAllowedPorts(80, 443).
				Build()
			mediaClient = safeurl.Client(safeCfg).Client
		} else {
			mediaClient = &http.Client{Timeout: opts.Timeout}
		}
	}

	maxAttempts := opts.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Client{
		httpClient:  httpClient,
		mediaClient: mediaClient,
		jar:         jar,
		headers: map[string]string{
			"User-Agent":       opts.UserAgent,
			"Accept":           "*/*",
			"Accept-Language":  "en-US,en;q=0.9",
			"X-IG-App-ID":      opts.AppID,
			"X-Requested-With": "XMLHttpRequest",
			"Sec-Fetch-Dest":   "empty",
			"Sec-Fetch-Mode":   "cors",
			"Sec-Fetch-Site":   "same-origin",
		},
		baseURL: base,
		limiter: opts.Limiter,
		retry: &retry.Config{
			MaxAttempts: maxAttempts,
			Backoff:     opts.Backoff,
			RetryIf:     retry.DefaultRetryIf,
			Logger:      opts.Logger,
		},
		logger: opts.Logger,
	}, nil
}

// Username returns the logged-in account, or "" when anonymous.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(hc *http.Client, req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "rate limit wait aborted: %v", err)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})

	resp, err := hc.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Redacted(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.Redacted(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// apiRequest sends a request to a path (with optional query) under the base URL
func (c *Client) apiRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if csrf := c.cookie("csrftoken"); csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}
	req.Header.Set("Referer", c.baseURL.String()+"/")

	resp, err := c.doRequest(c.httpClient, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getJSON performs a GET with retries and decodes the JSON response,
// returning the raw body as well
func (c *Client) getJSON(ctx context.Context, path string, target interface{}) ([]byte, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
		resp, err := c.apiRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := c.checkResponseStatus(resp); err != nil {
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
		}

		if err := json.Unmarshal(body, target); err != nil {
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"path":         path,
				"status":       resp.StatusCode,
				"error":        err.Error(),
				"body_preview": preview(body, 200),
			})
			return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
		}
		return body, nil
	}, c.retry)
}

// postForm submits a form once. 4xx bodies are still decoded into target
// since the login endpoints report failures in JSON.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, target interface{}) (int, error) {
	resp, err := c.apiRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if resp.StatusCode >= 500 {
		return resp.StatusCode, c.checkResponseStatus(resp)
	}
	if err := json.Unmarshal(body, target); err != nil {
		if statusErr := c.checkResponseStatus(resp); statusErr != nil {
			return resp.StatusCode, statusErr
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"path":         path,
			"status":       resp.StatusCode,
			"body_preview": preview(body, 200),
		})
		return resp.StatusCode, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}
	return resp.StatusCode, nil
}

// checkResponseStatus checks the HTTP response status and returns appropriate errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	fields := map[string]interface{}{
		"status": resp.StatusCode,
	}
	if resp.Request != nil {
		fields["url"] = resp.Request.URL.Redacted()
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusFound, http.StatusUnauthorized, http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", fields)
		return errs.New(errs.ErrorTypeAuth, resp.StatusCode, "authentication required")
	case http.StatusNotFound:
		c.logger.WarnWithFields("resource not found", fields)
		return errs.New(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
		return errs.New(errs.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.ErrorWithFields("server error", fields)
		return errs.New(errs.ErrorTypeServerError, resp.StatusCode, "server error")
	default:
		if resp.StatusCode >= 400 {
			c.logger.ErrorWithFields("unexpected API error", fields)
			return errs.New(errs.ErrorTypeUnknown, resp.StatusCode, "unexpected status code: %d", resp.StatusCode)
		}
		return nil
	}
}

// cookie returns the named cookie for the base URL
func (c *Client) cookie(name string) string {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func preview(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
