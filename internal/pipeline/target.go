package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"igharvest/pkg/instagram"
)

const postPrefix = "post:"

// Target is one pipeline input: an account or a single post.
type Target struct {
	Raw       string
	Account   string
	Shortcode string
}

// IsPost reports whether t names a single post.
func (t Target) IsPost() bool {
	return t.Shortcode != ""
}

// Key is the prefix of source identifiers produced for t.
func (t Target) Key() string {
	if t.IsPost() {
		return t.Shortcode
	}
	return t.Account
}

// ParseTarget parses "username", "@username" or "post:<shortcode>".
// Names that cannot be Instagram accounts or short codes are rejected.
func ParseTarget(s string) (Target, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, postPrefix) {
		sc := strings.TrimSpace(strings.TrimPrefix(s, postPrefix))
		if !instagram.IsValidShortcode(sc) {
			return Target{}, false
		}
		return Target{Raw: s, Shortcode: sc}, true
	}
	s = instagram.SanitizeUsername(s)
	if !instagram.IsValidUsername(s) {
		return Target{}, false
	}
	return Target{Raw: s, Account: s}, true
}

// ParseTargets parses a target list, dropping blanks and duplicates while
// keeping order.
func ParseTargets(list []string) []Target {
	seen := make(map[string]bool, len(list))
	out := make([]Target, 0, len(list))
	for _, s := range list {
		t, ok := ParseTarget(s)
		if !ok || seen[t.Raw] {
			continue
		}
		seen[t.Raw] = true
		out = append(out, t)
	}
	return out
}

// batchID names the checkpoint of a target set independent of its order.
func batchID(targets []Target) string {
	raw := make([]string, len(targets))
	for i, t := range targets {
		raw[i] = t.Raw
	}
	sort.Strings(raw)
	return fmt.Sprintf("batch-%016x", xxhash.Sum64String(strings.Join(raw, "\n")))
}

func rawTargets(targets []Target) []string {
	raw := make([]string, len(targets))
	for i, t := range targets {
		raw[i] = t.Raw
	}
	return raw
}
