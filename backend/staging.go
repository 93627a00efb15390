package backend

import "sync"

// Staging buffers hold a gathered payload between the sender's SGEs and
// the receiver's. Sizes are bucketed by powers of two; anything above the
// largest bucket is allocated directly.
//
// The pools hold *[]byte so Put does not allocate.

const (
	size4k   = 4 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

var staging = struct {
	pool4k   sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// getStaging returns a buffer of exactly size bytes. Release it with
// putStaging.
func getStaging(size int) []byte {
	switch {
	case size <= size4k:
		return (*staging.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*staging.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*staging.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*staging.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// putStaging returns a buffer to the bucket matching its capacity.
func putStaging(buf []byte) {
	buf = buf[:cap(buf)]
	switch cap(buf) {
	case size4k:
		staging.pool4k.Put(&buf)
	case size64k:
		staging.pool64k.Put(&buf)
	case size256k:
		staging.pool256k.Put(&buf)
	case size1m:
		staging.pool1m.Put(&buf)
	}
}
