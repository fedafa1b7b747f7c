package ictboard

import "github.com/hubertat/ictboard/drivers"

// Port is one logical digital channel on a board. Its direction never changes
// after the board is constructed.
type Port struct {
	Name      string
	Direction drivers.PortDirection
	// Width is the number of significant bits (1..8); unused high bits read as zero.
	Width uint8

	channel drivers.Channel
	last    byte
	hasLast bool
}

func (p *Port) mask() byte {
	if p.Width == 0 || p.Width >= 8 {
		return 0xFF
	}
	return byte(1)<<p.Width - 1
}

// LastValue returns the last byte written or read through this port, if any.
func (p *Port) LastValue() (byte, bool) {
	return p.last, p.hasLast
}

func (p *Port) remember(v byte) {
	p.last = v
	p.hasLast = true
}
