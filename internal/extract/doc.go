// Package extract recognizes retail products in an image by prompting a
// text-completion model and normalizing its JSON answer.
//
// Model output is treated as untrusted. A surrounding code fence is
// removed, the text must parse as a JSON array (the span between the
// first '[' and the last ']' is tried as a fallback), non-object elements
// are dropped and every string is stripped of markup. Products are keyed by
// a UUIDv5 of (source kind, source id, lower-cased title) so re-running the
// same media overwrites instead of duplicating.
package extract
