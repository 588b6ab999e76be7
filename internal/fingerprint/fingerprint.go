// Package fingerprint computes perceptual hashes to spot near-duplicate
// photos, such as burst shots of the same scene.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"math/bits"
	"sort"

	"github.com/disintegration/imaging"
)

// DefaultThreshold is the Hamming distance up to which two hashes count as
// the same picture.
const DefaultThreshold = 10

// Hash holds the 64-bit perceptual (DCT) and difference hashes of an image.
type Hash struct {
	P uint64
	D uint64
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x:%016x", h.P, h.D)
}

// Compute hashes an image.
func Compute(img image.Image) Hash {
	return Hash{P: computePHash(img), D: computeDHash(img)}
}

// FromBytes decodes an encoded image, upright per EXIF, and hashes it.
func FromBytes(data []byte) (Hash, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return Compute(img), nil
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Similar reports whether both hashes of a and b are within threshold.
// Requiring both keeps flat or gradient images, where one hash degenerates,
// from matching everything.
func Similar(a, b Hash, threshold int) bool {
	return HammingDistance(a.P, b.P) <= threshold && HammingDistance(a.D, b.D) <= threshold
}

// Duplicates flags every hash that is similar to an earlier unflagged one.
// Missing hashes (ok[i] false) are never flagged and never matched.
func Duplicates(hashes []Hash, ok []bool, threshold int) []bool {
	dup := make([]bool, len(hashes))
	var firsts []int
	for i, h := range hashes {
		if !ok[i] {
			continue
		}
		for _, j := range firsts {
			if Similar(h, hashes[j], threshold) {
				dup[i] = true
				break
			}
		}
		if !dup[i] {
			firsts = append(firsts, i)
		}
	}
	return dup
}

// computePHash computes a 64-bit perceptual hash using DCT.
func computePHash(img image.Image) uint64 {
	gray := toGrayscale(imaging.Resize(img, 32, 32, imaging.Linear))
	dct := computeDCT(gray)

	// top-left 8x8 low frequencies without the DC term, padded with the
	// next coefficients
	lowFreq := make([]float64, 0, 64)
	for u := range 8 {
		for v := range 8 {
			if u == 0 && v == 0 {
				continue
			}
			lowFreq = append(lowFreq, dct[u][v])
		}
	}
	lowFreq = append(lowFreq, dct[8][0])

	median := computeMedian(lowFreq)
	var hash uint64
	for i, v := range lowFreq {
		if v > median {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// computeDHash compares horizontally adjacent pixels of a 9x8 thumbnail.
func computeDHash(img image.Image) uint64 {
	gray := toGrayscale(imaging.Resize(img, 9, 8, imaging.Linear))

	var hash uint64
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

// toGrayscale converts an image to a [x][y] array of luma values (0-255).
func toGrayscale(img *image.NRGBA) [][]float64 {
	b := img.Bounds()
	gray := make([][]float64, b.Dx())
	for x := range b.Dx() {
		gray[x] = make([]float64, b.Dy())
		for y := range b.Dy() {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		}
	}
	return gray
}

// computeDCT computes the DCT-II of a square grayscale image.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)
	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := range size {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	dct := make([][]float64, size)
	for u := range size {
		dct[u] = make([]float64, size)
		for v := range size {
			var sum float64
			for x := range size {
				for y := range size {
					sum += gray[x][y] * cosTable[u][x] * cosTable[v][y]
				}
			}
			dct[u][v] = sum
		}
	}
	return dct
}

func computeMedian(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
