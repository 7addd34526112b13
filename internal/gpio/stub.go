//go:build !linux

package gpio

import "errors"

// Pins selects the chip and BCM line offsets.
type Pins struct {
	Chip    string
	Relay   int
	Trigger int
	Echo    int
}

// Board is not available on non-Linux platforms.
type Board struct {
	Relay  *Relay
	Ranger *Ranger
}

// Open returns an error on non-Linux platforms.
func Open(Pins) (*Board, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (b *Board) Close() error {
	return nil
}
