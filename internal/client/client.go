// Package client holds the pluggable transport backends talking to the
// inference server, plus the control-plane helpers for remote project
// start/stop.
package client

import (
	"context"

	"github.com/czpavel/visionfeed/internal/models"
)

// Input is the image handed to a transport backend: a file path, raw PNG
// bytes, or both (bytes win when present).
type Input struct {
	Path  string
	Bytes []byte
}

// Client is the transport boundary. Analyze returns the opaque server
// context and, when the backend supports it, the processed image bytes.
type Client interface {
	Ping(ctx context.Context) bool
	Analyze(ctx context.Context, image Input, data string) (models.Context, []byte, error)
	Close()
}
