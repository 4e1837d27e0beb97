package services

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// NormalizeImage decodes an image, bounds it to maxDim on the longest side
// without upscaling, and re-encodes it as JPEG at fixed quality. Every image
// entering the pipeline passes through exactly once; the result is never
// mutated afterward.
func NormalizeImage(data []byte, maxDim int) ([]byte, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "empty image data"}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("undecodable image: %v", err)}
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
