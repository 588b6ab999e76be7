package smartcrop

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	exif "github.com/dsoprea/go-exif/v3"
	jis "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// Metadata is the EXIF block of a JPEG source.
type Metadata struct {
	Orientation int // 1..8, 0 when absent

	segments *jis.SegmentList
}

// HasEXIF reports whether the source carried an EXIF block.
func (m Metadata) HasEXIF() bool {
	return m.segments != nil
}

// Decode decodes an image and rotates its pixels upright according to the
// EXIF orientation. The EXIF block is returned so it can be written back.
func Decode(data []byte) (image.Image, Metadata, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("decode image: %w", err)
	}
	return img, ReadMetadata(data), nil
}

// ReadMetadata extracts the EXIF block of a JPEG. Non-JPEG input or a
// missing or malformed block yields zero Metadata.
func ReadMetadata(data []byte) Metadata {
	sl, err := parseJPEG(data)
	if err != nil {
		return Metadata{}
	}
	rootIfd, _, err := sl.Exif()
	if err != nil {
		return Metadata{}
	}

	m := Metadata{segments: sl}
	tags, err := rootIfd.FindTagWithName("Orientation")
	if err != nil || len(tags) == 0 {
		return m
	}
	if v, err := tags[0].Value(); err == nil {
		if shorts, ok := v.([]uint16); ok && len(shorts) > 0 {
			m.Orientation = int(shorts[0])
		}
	}
	return m
}

func parseJPEG(data []byte) (*jis.SegmentList, error) {
	jmp := jis.NewJpegMediaParser()
	if !jmp.LooksLikeFormat(data) {
		return nil, fmt.Errorf("not a jpeg")
	}
	mc, err := jmp.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg: %w", err)
	}
	sl, ok := mc.(*jis.SegmentList)
	if !ok {
		return nil, fmt.Errorf("unexpected media context %T", mc)
	}
	return sl, nil
}

// uprightBuilder copies the source EXIF with the orientation reset to 1,
// since the pixels have already been rotated.
func uprightBuilder(src *jis.SegmentList) (*exif.IfdBuilder, error) {
	ib, err := src.ConstructExifBuilder()
	if err != nil {
		return nil, fmt.Errorf("read exif: %w", err)
	}
	if _, err := ib.FindTagWithName("Orientation"); err == nil {
		if err := ib.SetStandardWithName("Orientation", []uint16{1}); err != nil {
			return nil, fmt.Errorf("reset orientation: %w", err)
		}
	}
	return ib, nil
}

// EncodeJPEG writes img as JPEG. If meta carries an EXIF block it is
// re-attached with the orientation reset to 1, so GPS and every other tag
// survive the crop.
func EncodeJPEG(w io.Writer, img image.Image, meta Metadata, quality int) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	if !meta.HasEXIF() {
		_, err := w.Write(buf.Bytes())
		return err
	}

	ib, err := uprightBuilder(meta.segments)
	if err != nil {
		return err
	}
	out, err := parseJPEG(buf.Bytes())
	if err != nil {
		return err
	}
	if err := out.SetExif(ib); err != nil {
		return fmt.Errorf("attach exif: %w", err)
	}
	if err := out.Write(w); err != nil {
		return fmt.Errorf("write jpeg: %w", err)
	}
	return nil
}
