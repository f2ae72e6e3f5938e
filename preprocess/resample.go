package preprocess

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Resampler scales an image to an exact size. Implementations return a new
// image and never touch the source.
type Resampler interface {
	Resize(img image.Image, width, height int) *image.NRGBA
}

// ImagingResampler resizes with github.com/disintegration/imaging.
type ImagingResampler struct {
	Filter imaging.ResampleFilter
}

func (r ImagingResampler) Resize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, r.Filter)
}

// NfntResampler resizes with github.com/nfnt/resize.
type NfntResampler struct {
	Interpolation resize.InterpolationFunction
}

func (r NfntResampler) Resize(img image.Image, width, height int) *image.NRGBA {
	out := resize.Resize(uint(width), uint(height), img, r.Interpolation)
	if nrgba, ok := out.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(out)
}

// DefaultResampler is bilinear, matching a filtered bitmap scale.
func DefaultResampler() Resampler {
	return ImagingResampler{Filter: imaging.Linear}
}

// NewResampler picks a backend ("imaging" or "nfnt") and filter ("linear",
// "catmullrom" or "lanczos"). Empty values select the defaults.
func NewResampler(backend, filter string) (Resampler, error) {
	filter = strings.ToLower(strings.TrimSpace(filter))
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "imaging":
		switch filter {
		case "", "linear", "bilinear":
			return ImagingResampler{Filter: imaging.Linear}, nil
		case "catmullrom", "bicubic":
			return ImagingResampler{Filter: imaging.CatmullRom}, nil
		case "lanczos":
			return ImagingResampler{Filter: imaging.Lanczos}, nil
		}
	case "nfnt":
		switch filter {
		case "", "linear", "bilinear":
			return NfntResampler{Interpolation: resize.Bilinear}, nil
		case "catmullrom", "bicubic":
			return NfntResampler{Interpolation: resize.Bicubic}, nil
		case "lanczos":
			return NfntResampler{Interpolation: resize.Lanczos3}, nil
		}
	default:
		return nil, fmt.Errorf("unknown resampler backend %q", backend)
	}
	return nil, fmt.Errorf("unknown resample filter %q", filter)
}
