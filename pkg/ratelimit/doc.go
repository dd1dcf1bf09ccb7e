// Package ratelimit paces outbound calls to Instagram.
//
// New picks the implementation from configuration: a continuously refilled
// token Bucket when a burst is configured, otherwise a strict SlidingWindow
// of N requests per minute. A non-positive rate yields Unlimited.
//
//	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
//
// Wait returns ctx.Err() if the context ends before a slot opens.
package ratelimit
