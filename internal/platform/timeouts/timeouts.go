// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values keeps boundaries consistent and discoverable.
package timeouts

import "time"

// NotifyDispatch caps one outbound chat notification request.
const NotifyDispatch = 10 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
