package constants

import "time"

// Default resource limits
const (
	// DefaultCQDepth is the default number of completion slots per CQ
	DefaultCQDepth = 128

	// DefaultQueueDepth is the default number of work requests per SQ or RQ
	DefaultQueueDepth = 128

	// DefaultMaxSGE is the default scatter/gather list length per request
	DefaultMaxSGE = 4

	// DefaultMaxInline is the default inline payload limit in bytes
	DefaultMaxInline = 64

	// DefaultUverbsPath is the first uverbs character device
	DefaultUverbsPath = "/dev/infiniband/uverbs0"
)

// Ring layout constants
const (
	// RingAlign is the used ring alignment for rings the library lays out
	RingAlign = 4096

	// DoorbellSize is the size of a doorbell word in bytes
	DoorbellSize = 4
)

// Timing constants for the loopback device
const (
	// LoopbackPollInterval is how long the loopback engine sleeps when its
	// rings are idle
	LoopbackPollInterval = 50 * time.Microsecond

	// RNRRetryLimit is how many times a send waits for a receive buffer
	// before completing with an RNR retry error
	RNRRetryLimit = 7
)
