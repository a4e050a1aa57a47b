package dedup

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoders
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
)

// ErrNotImage is returned when data cannot be decoded as an image.
var ErrNotImage = errors.New("content is not a decodable image")

// PerceptualHash computes the 64-bit pHash of a JPEG, PNG or GIF image.
func PerceptualHash(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute perceptual hash: %w", err)
	}
	return hash.GetHash(), nil
}

// HammingDistance counts differing bits between two perceptual hashes.
func HammingDistance(a, b uint64) int {
	ha := goimagehash.NewImageHash(a, goimagehash.PHash)
	hb := goimagehash.NewImageHash(b, goimagehash.PHash)
	d, err := ha.Distance(hb)
	if err != nil {
		// Same kind on both sides; Distance only fails on a kind mismatch.
		return 64
	}
	return d
}
