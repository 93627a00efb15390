package vrdma

import "github.com/ehrlich-b/go-vrdma/internal/constants"

// Re-export constants for public API
const (
	DefaultCQDepth    = constants.DefaultCQDepth
	DefaultQueueDepth = constants.DefaultQueueDepth
	DefaultMaxSGE     = constants.DefaultMaxSGE
	DefaultMaxInline  = constants.DefaultMaxInline
	DefaultUverbsPath = constants.DefaultUverbsPath
)
