//go:build !linux

package uring

func newWriter(Config) (Writer, error) {
	return nil, ErrUnsupported
}
