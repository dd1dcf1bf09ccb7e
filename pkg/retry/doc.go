// Package retry provides exponential backoff and retry logic for transient
// failures in outbound calls (Instagram endpoints, media downloads and the
// extraction model).
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return client.FetchProfile(ctx, username)
//	}, nil)
//
//	// Extraction: one retry, 1s then 2s, 4s...
//	cfg := retry.WithRetries(cfg.LLM.Retries, cfg.LLM.RetryBaseDelay, log)
//	out, err := retry.DoWithResult(ctx, call, cfg)
//
// DefaultRetryIf consults pkg/errors: rate limits, network failures and
// server errors are retried; auth failures, missing resources and context
// cancellation are not. AlwaysRetry retries anything but cancellation.
//
// No delay is spent after the final attempt. Waiting between attempts stops
// early when ctx is done.
package retry
