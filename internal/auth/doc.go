// Package auth provides JWT verification and the HTTP middleware that
// attaches the caller's owner identity to the request context. Sessions
// created through an authenticated request record that identity; the
// service otherwise runs open.
package auth
