package custom

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// thumbMaxDim bounds the longest thumbnail edge.
	thumbMaxDim = 300

	thumbQuality = 80
)

// makeThumbnail scales an image to fit within thumbMaxDim on its longest
// edge, preserving aspect ratio, and encodes it as JPEG. Images already
// smaller than the bound are not upscaled.
func makeThumbnail(img image.Image) ([]byte, error) {
	thumb := imaging.Fit(img, thumbMaxDim, thumbMaxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
