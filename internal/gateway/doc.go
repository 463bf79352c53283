// Package gateway is the HTTP transport for the chat service.
//
// # Endpoints
//
//	POST /api/chat                      blocking turn, new session
//	POST /api/chat/{uuid}               blocking turn, existing session
//	GET  /api/chat/{uuid}               history (JSON, or HTML with ?format=html)
//	POST /api/chat/streaming/new        streamed turn, new session (SSE)
//	POST /api/chat/streaming/{uuid}     streamed turn, existing session (SSE)
//	GET  /health                        liveness
//
// # Middleware
//
// Requests pass through, in order: correlation-ID enforcement (a valid
// UUID X-Correlation-ID is required on API paths and echoed back),
// request timing (X-Process-Time), two-tier fixed-window rate limiting
// (429 with Retry-After), and optional bearer-token auth.
//
// # Streaming
//
// Streamed turns write the chat package's event frames over a
// text/event-stream response, flushing after every frame so the client
// paces the upstream pull.
package gateway
