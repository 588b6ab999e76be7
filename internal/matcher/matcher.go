// Package matcher pairs photos with layout slots by aspect ratio.
package matcher

import (
	"errors"
	"fmt"
	"sort"
)

// NoAssetsError is returned when there is no photo to place.
type NoAssetsError struct {
	Slots int
}

func (e *NoAssetsError) Error() string {
	return fmt.Sprintf("no photos available for %d slots", e.Slots)
}

// Is makes errors.Is(err, ErrNoAssets) match any *NoAssetsError.
func (e *NoAssetsError) Is(target error) bool {
	return target == ErrNoAssets
}

// ErrNoAssets is the sentinel form of NoAssetsError.
var ErrNoAssets = errors.New("no photos available")

// Pair assigns the photo at PhotoIndex to the slot at SlotIndex.
type Pair struct {
	SlotIndex  int
	PhotoIndex int
}

type indexed struct {
	index int
	ratio float64
}

func byRatioDesc(ratios []float64) []indexed {
	out := make([]indexed, len(ratios))
	for i, r := range ratios {
		out[i] = indexed{index: i, ratio: r}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ratio > out[b].ratio })
	return out
}

// Match sorts photos and slots independently by descending aspect ratio
// (width/height) and pairs them positionally: the widest photo goes to the
// widest slot. Extra photos are unused and extra slots stay empty. Ties keep
// input order. The result is ordered by slot index.
func Match(photoRatios, slotRatios []float64) ([]Pair, error) {
	if len(photoRatios) == 0 {
		return nil, &NoAssetsError{Slots: len(slotRatios)}
	}

	photos := byRatioDesc(photoRatios)
	slots := byRatioDesc(slotRatios)

	n := min(len(photos), len(slots))
	pairs := make([]Pair, n)
	for i := range n {
		pairs[i] = Pair{SlotIndex: slots[i].index, PhotoIndex: photos[i].index}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].SlotIndex < pairs[b].SlotIndex })
	return pairs, nil
}

// AspectRatio returns w/h with EXIF orientations 5-8 (quarter turns)
// swapping the axes, so the ratio describes the upright photo.
func AspectRatio(w, h, orientation int) float64 {
	if orientation >= 5 && orientation <= 8 {
		w, h = h, w
	}
	if h <= 0 {
		return 0
	}
	return float64(w) / float64(h)
}
