// Package uring submits uverbs commands through io_uring
package uring

import (
	"errors"
	"io"
)

// ErrUnsupported is returned where io_uring is not available.
var ErrUnsupported = errors.New("io_uring not supported on this platform")

// ErrRingFull is returned when no submission entry is free.
var ErrRingFull = errors.New("io_uring submission queue full")

// Writer issues write(2) calls on one file descriptor through an io_uring
// instance. A Writer is safe for concurrent use; writes are serialized.
type Writer interface {
	io.Writer
	Close() error
}

// Config contains configuration for creating a ring
type Config struct {
	Entries uint32 // Number of entries in the ring
	FD      int32  // File descriptor the writes go to
}

// DefaultEntries is enough for one outstanding command per caller.
const DefaultEntries = 8

// NewWriter creates a Writer on cfg.FD.
func NewWriter(cfg Config) (Writer, error) {
	if cfg.Entries == 0 {
		cfg.Entries = DefaultEntries
	}
	return newWriter(cfg)
}
