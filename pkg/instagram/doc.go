// Package instagram is a minimal client for the Instagram web API.
//
// A Client holds the cookies of at most one account. It supports password
// login with an optional two-factor step, session blob export and import,
// and the reads the harvester needs: profile metadata, post metadata with
// its media list, current stories, and raw media bytes.
//
//	c, err := instagram.NewClient(instagram.OptionsFromConfig(cfg, limiter, log))
//	if err := c.Login(ctx, user, pass); errors.Is(err, errs.ErrChallengeRequired) {
//		err = c.TwoFactorLogin(ctx, code)
//	}
//	stories, err := c.Stories(ctx, "some_shop")
//	media, err := c.FetchMedia(ctx, stories[0])
//
// Failures are typed pkg/errors values. Idempotent reads are retried with
// pkg/retry; every request waits on the configured rate limiter. Media bytes
// can be fetched through an SSRF-guarded client (safeurl) since locators
// come from upstream JSON.
package instagram
