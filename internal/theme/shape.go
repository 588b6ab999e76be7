package theme

import (
	"fmt"
	"strings"
)

// Shape is the mask applied to a slot's photo.
type Shape uint8

const (
	ShapeOriginal Shape = iota
	ShapeSquare
	ShapeRound
	ShapeOval
	ShapeRounded
	ShapeMagic // delegates the choice to the shape recommender
)

var shapeNames = [...]string{
	ShapeOriginal: "original",
	ShapeSquare:   "square",
	ShapeRound:    "round",
	ShapeOval:     "oval",
	ShapeRounded:  "rounded",
	ShapeMagic:    "magic",
}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return fmt.Sprintf("shape(%d)", s)
}

// ParseShape parses a shape name. "circle" and "ellipse" are accepted as
// aliases, the empty string means original.
func ParseShape(name string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "original", "none":
		return ShapeOriginal, nil
	case "square":
		return ShapeSquare, nil
	case "round", "circle":
		return ShapeRound, nil
	case "oval", "ellipse":
		return ShapeOval, nil
	case "rounded":
		return ShapeRounded, nil
	case "magic", "auto":
		return ShapeMagic, nil
	}
	return ShapeOriginal, fmt.Errorf("unknown shape %q", name)
}

func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Shape) UnmarshalText(text []byte) error {
	v, err := ParseShape(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
