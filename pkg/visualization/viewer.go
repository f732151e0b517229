package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/kirilklein/HPC/pkg/volume"
)

// Viewer renders 2D views of a reconstructed volume. Voxel values are
// mapped linearly from the volume's value range onto 16-bit grayscale,
// so the output is a relative density image rather than calibrated units.
type Viewer struct {
	// vol holds the 3D reconstructed volume data
	vol *volume.Volume

	// min and span describe the value range used for normalization
	min  float64
	span float64
}

// NewViewer creates a viewer for the given volume. The normalization
// range is fixed at construction time from the volume's current values.
func NewViewer(vol *volume.Volume) *Viewer {
	stats := volume.ComputeStats(vol)
	return &Viewer{
		vol:  vol,
		min:  stats.Min,
		span: stats.Max - stats.Min,
	}
}

// gray maps a voxel value onto the 16-bit grayscale range.
func (v *Viewer) gray(val float32) color.Gray16 {
	if v.span == 0 {
		return color.Gray16{}
	}
	norm := (float64(val) - v.min) / v.span * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, norm)))}
}

// ExtractSlice extracts a 2D slice from the 3D volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	nv := v.vol.NumVoxels()
	if position >= nv {
		return nil, fmt.Errorf("position %d exceeds volume edge length %d", position, nv)
	}

	img := image.NewGray16(image.Rect(0, 0, nv, nv))

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		for y := 0; y < nv; y++ {
			for z := 0; z < nv; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		for z := 0; z < nv; z++ {
			for x := 0; x < nv; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		for y := 0; y < nv; y++ {
			for x := 0; x < nv; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume as raw voxel values.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float32, error) {
	// Validate parameters
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	nv := v.vol.NumVoxels()
	if startX+sizeX > nv || startY+sizeY > nv || startZ+sizeZ > nv {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float32, sizeX*sizeY*sizeZ)

	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region[z*sizeX*sizeY+y*sizeX+x] = v.vol.At(startX+x, startY+y, startZ+z)
			}
		}
	}

	return region, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	switch axis {
	case "x", "X", "y", "Y", "z", "Z":
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.vol.NumVoxels(); pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
