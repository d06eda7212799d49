// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one question/answer exchange against the upstream
// model server.
package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatai/internal/metrics"
)

// Mode selects how the upstream reply is delivered.
type Mode string

const (
	// ModeStream asks for NDJSON fragments and emits snapshots as they arrive.
	ModeStream Mode = "stream"
	// ModeBuffer asks for one JSON document and emits a single snapshot.
	ModeBuffer Mode = "buffer"
)

// ParseMode accepts "stream" or "buffer" (empty means stream).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStream:
		return ModeStream, nil
	case ModeBuffer:
		return ModeBuffer, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want stream or buffer)", s)
	}
}

// Config holds configuration for exchanges. The zero value streams with no
// limits, no rate cap and no logging.
type Config struct {
	// Mode is stream (default) or buffer.
	Mode Mode

	// MaxDuration bounds a whole exchange. Zero means no limit.
	MaxDuration time.Duration

	// IdleTimeout bounds the gap between chunks, starting from the request.
	// Zero means no limit.
	IdleTimeout time.Duration

	// SnapshotRate caps snapshot deliveries per second. Snapshots produced
	// faster are coalesced. Zero means uncapped.
	SnapshotRate float64

	// ReadBufferSize is the transport read size (default: 4096).
	ReadBufferSize int

	// MaxBufferedBytes bounds the reply held in buffer mode (default: 32 MiB).
	MaxBufferedBytes int64

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeStream,
		MaxDuration:      10 * time.Minute,
		IdleTimeout:      2 * time.Minute,
		SnapshotRate:     30,
		ReadBufferSize:   4096,
		MaxBufferedBytes: defaultMaxBufferedBytes,
	}
}

const defaultMaxBufferedBytes = 32 << 20

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeStream
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.MaxBufferedBytes <= 0 {
		c.MaxBufferedBytes = defaultMaxBufferedBytes
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
