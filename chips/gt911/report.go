package gt911

import "touchchip-go/x/mathx"

// Bus address and panel geometry of the emulated controller.
const (
	Address     = 0x5D
	ResolutionX = 800
	ResolutionY = 1280
)

// Report layout.
const (
	InitLen   = 3
	ReportLen = 8

	StatusTouchDown = 0x80 // buffer ready, finger down
)

// TouchX and TouchY are the synthetic finger position: panel centre.
const (
	TouchX = ResolutionX / 2
	TouchY = ResolutionY / 2
)

// EncodeReport builds a single-point touch report:
//
//	[0] status  [1] point count  [2] X high  [3] X low  [4] Y high  [5] Y low  [6..7] reserved
//
// Coordinates are clamped to the panel.
func EncodeReport(x, y uint16) [ReportLen]byte {
	x = mathx.Clamp(x, 0, ResolutionX-1)
	y = mathx.Clamp(y, 0, ResolutionY-1)
	return [ReportLen]byte{
		StatusTouchDown,
		0x01,
		byte(x >> 8), byte(x),
		byte(y >> 8), byte(y),
	}
}
