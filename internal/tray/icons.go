package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/voicetel/freescout-sla-tray/internal/session"
	"github.com/voicetel/freescout-sla-tray/internal/sla"
)

const iconSize = 22

var tierColors = map[sla.Tier]color.NRGBA{
	sla.TierNone:        {R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff},
	sla.TierPlenty:      {R: 0x2e, G: 0x9e, B: 0x44, A: 0xff},
	sla.TierApproaching: {R: 0xf0, G: 0xa2, B: 0x02, A: 0xff},
	sla.TierOverdue:     {R: 0xd7, G: 0x3a, B: 0x49, A: 0xff},
}

var offlineColor = color.NRGBA{R: 0x58, G: 0x60, B: 0x69, A: 0xff}

// iconSet renders tray images on first use and keeps them.
type iconSet struct {
	mu    sync.Mutex
	cache map[session.Icon][]byte
}

func newIconSet() *iconSet {
	return &iconSet{cache: make(map[session.Icon][]byte)}
}

func (s *iconSet) get(icon session.Icon) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.cache[icon]; ok {
		return b
	}
	b, err := drawIcon(icon)
	if err != nil {
		return nil
	}
	s.cache[icon] = b
	return b
}

// drawIcon draws a filled dot in the tier colour. Offline is a ring.
func drawIcon(icon session.Icon) ([]byte, error) {
	c, ok := tierColors[icon.Tier]
	if !ok {
		c = tierColors[sla.TierNone]
	}
	if icon.Offline {
		c = offlineColor
	}

	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	outer := center - 1
	inner := outer - 3

	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			d := dx*dx + dy*dy
			if d > outer*outer {
				continue
			}
			if icon.Offline && d < inner*inner {
				continue
			}
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
