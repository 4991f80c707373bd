package extractor

import (
	"bytes"
	"fmt"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// EXIFExtractor reads orientation from image bytes using EXIF metadata.
type EXIFExtractor struct {
	logger *logrus.Logger
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger *logrus.Logger) *EXIFExtractor {
	return &EXIFExtractor{logger: logger}
}

// ReadOrientation returns the orientation stored in the EXIF block of data.
// Images without EXIF (PNG, BMP, most WebP) report OrientationNormal and no error.
func (e *EXIFExtractor) ReadOrientation(data []byte) (Orientation, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		e.logger.Debugf("No EXIF block: %v", err)
		return OrientationNormal, nil
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal, nil
	}

	val, err := tag.Int(0)
	if err != nil {
		return OrientationUnknown, fmt.Errorf("failed to read orientation tag: %w", err)
	}

	o := Orientation(val)
	if o < OrientationNormal || o > OrientationRotate90 {
		e.logger.Debugf("Ignoring out of range orientation %d", val)
		return OrientationNormal, nil
	}
	return o, nil
}
