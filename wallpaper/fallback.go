package wallpaper

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	freshtab "github.com/freshtab/freshtab"
)

// fallbackImage returns a locally generated wallpaper for when every
// provider is unreachable and the cache is empty. Generated once per
// resolution and reused.
func (s *Service) fallbackImage(r freshtab.Resolution) ([]byte, error) {
	s.fallbackMu.Lock()
	defer s.fallbackMu.Unlock()

	if data, ok := s.fallback[r]; ok {
		return data, nil
	}

	width, height := r.Dimensions()
	data, err := generateGradient(width, height)
	if err != nil {
		return nil, err
	}
	s.fallback[r] = data
	return data, nil
}

// generateGradient renders a vertical dusk gradient as a JPEG.
func generateGradient(width, height int) ([]byte, error) {
	top := color.RGBA{R: 0x1e, G: 0x3a, B: 0x5f, A: 0xff}
	bottom := color.RGBA{R: 0x0b, G: 0x10, B: 0x21, A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		t := float64(y) / float64(height-1)
		c := color.RGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: 0xff,
		}
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
