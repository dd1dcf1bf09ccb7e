// Package llm is a minimal client for OpenAI-compatible chat completion
// endpoints, used as the text-completion capability of the extraction
// adapter.
package llm
