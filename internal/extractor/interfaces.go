package extractor

import (
	"image"

	"github.com/disintegration/imaging"
)

// OrientationReader reads the EXIF orientation of an encoded image.
type OrientationReader interface {
	ReadOrientation(data []byte) (Orientation, error)
}

// MetadataCopier carries descriptive tags across a re-encode that drops them.
type MetadataCopier interface {
	Snapshot(path string) (Snapshot, error)
	Restore(path string, snap Snapshot) error
	Close() error
}

// Snapshot holds the tags captured from a file before it is overwritten.
type Snapshot map[string]string

// Orientation is the EXIF orientation tag value (1-8).
type Orientation int

const (
	OrientationUnknown Orientation = iota
	OrientationNormal
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate270
	OrientationTransverse
	OrientationRotate90
)

// String returns a human-readable description of the orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "Normal"
	case OrientationFlipH:
		return "Mirror horizontal"
	case OrientationRotate180:
		return "Rotate 180"
	case OrientationFlipV:
		return "Mirror vertical"
	case OrientationTranspose:
		return "Mirror horizontal and rotate 270 CW"
	case OrientationRotate270:
		return "Rotate 90 CW"
	case OrientationTransverse:
		return "Mirror horizontal and rotate 90 CW"
	case OrientationRotate90:
		return "Rotate 270 CW"
	default:
		return "Unknown"
	}
}

// NeedsTransform reports whether Apply would change the image.
func (o Orientation) NeedsTransform() bool {
	return o > OrientationNormal && o <= OrientationRotate90
}

// Apply returns img transformed so it displays upright without the tag.
func (o Orientation) Apply(img image.Image) *image.NRGBA {
	switch o {
	case OrientationFlipH:
		return imaging.FlipH(img)
	case OrientationRotate180:
		return imaging.Rotate180(img)
	case OrientationFlipV:
		return imaging.FlipV(img)
	case OrientationTranspose:
		return imaging.Transpose(img)
	case OrientationRotate270:
		return imaging.Rotate270(img)
	case OrientationTransverse:
		return imaging.Transverse(img)
	case OrientationRotate90:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
