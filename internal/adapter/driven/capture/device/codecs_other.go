//go:build !linux

package device

import "github.com/pion/mediadevices"

// NewCodecSelector reports ErrNoCodecs: the VP8 and Opus encoders are only
// built on Linux.
func NewCodecSelector(videoBitRate int) (*mediadevices.CodecSelector, error) {
	return nil, ErrNoCodecs
}
