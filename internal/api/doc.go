// Package api exposes the session service, stored products and the
// extraction pipeline over HTTP. Every error body has the form
// {"detail": "..."}.
package api
