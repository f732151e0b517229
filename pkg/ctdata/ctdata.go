// Package ctdata loads the on-disk CT scan datasets: the voxel coordinate
// geometry shared by all projections and the per-projection image,
// transform and weight records. A dataset directory holds projections.bin
// and transform.bin for the scan plus one subdirectory per supported volume
// size with the precomputed voxel grids for that size.
package ctdata

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/kirilklein/HPC/pkg/binio"
	"github.com/kirilklein/HPC/pkg/config"
	"github.com/kirilklein/HPC/pkg/volume"
)

// Geometry is the projection-independent voxel grid data, loaded once per
// worker and read-only afterwards.
type Geometry struct {
	// Planes holds the four rows of the homogeneous voxel coordinate
	// grid, each with one value per (x, y) voxel column. The Z row
	// (plane 2) is a placeholder in the file: the kernel substitutes the
	// per-slice Z coordinate for it.
	Planes *volume.Planes

	// ZCoords holds the Z coordinate of each of the numVoxels slices.
	ZCoords []float32
}

// Projection is the transient per-projection data: one detector image, the
// projective transform that positions the volume against it, and the cone
// beam density weights.
type Projection struct {
	ID        int
	Image     *volume.Image2D
	Transform volume.Transform
	Weights   []float32
}

// Loader reads geometry and projection records for one dataset directory
// and volume size.
type Loader struct {
	reader    *binio.Reader
	inputDir  string
	numVoxels int
	ds        config.Dataset
}

// NewLoader creates a loader for the dataset in inputDir at the given
// volume size.
func NewLoader(reader *binio.Reader, inputDir string, numVoxels int, ds config.Dataset) *Loader {
	return &Loader{
		reader:    reader,
		inputDir:  inputDir,
		numVoxels: numVoxels,
		ds:        ds,
	}
}

// voxelDir is the subdirectory holding the precomputed grids for this
// volume size.
func (l *Loader) voxelDir() string {
	return filepath.Join(l.inputDir, strconv.Itoa(l.numVoxels))
}

// Geometry loads the voxel coordinate grid and Z coordinates.
func (l *Loader) Geometry() (*Geometry, error) {
	nv := int64(l.numVoxels)
	size := nv * nv

	combined, err := l.reader.ReadFloats(filepath.Join(l.voxelDir(), "combined.bin"), 4*size, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load voxel coordinates: %v", err)
	}
	planes, err := volume.NewPlanes(combined, 4, l.numVoxels*l.numVoxels)
	if err != nil {
		return nil, err
	}

	zCoords, err := l.reader.ReadFloats(filepath.Join(l.voxelDir(), "z_voxel_coords.bin"), nv, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load Z voxel coordinates: %v", err)
	}

	return &Geometry{Planes: planes, ZCoords: zCoords}, nil
}

// Projection loads the image, transform and weights for one projection id.
func (l *Loader) Projection(id int) (*Projection, error) {
	if id < 0 || id >= l.ds.NumProjections {
		return nil, fmt.Errorf("projection id %d out of range [0, %d)", id, l.ds.NumProjections)
	}

	pixelCount := int64(l.ds.DetectorRows) * int64(l.ds.DetectorColumns)
	pixels, err := l.reader.ReadFloats(filepath.Join(l.inputDir, "projections.bin"), pixelCount, int64(id)*pixelCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load projection %d image: %v", id, err)
	}
	img, err := volume.NewImage2D(pixels, l.ds.DetectorRows, l.ds.DetectorColumns)
	if err != nil {
		return nil, err
	}

	matrix, err := l.reader.ReadFloats(filepath.Join(l.inputDir, "transform.bin"), 12, int64(id)*12)
	if err != nil {
		return nil, fmt.Errorf("failed to load projection %d transform: %v", id, err)
	}
	var tr volume.Transform
	copy(tr[:], matrix)

	size := int64(l.numVoxels) * int64(l.numVoxels)
	weights, err := l.reader.ReadFloats(filepath.Join(l.voxelDir(), "volumeweight.bin"), size, int64(id)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to load projection %d weights: %v", id, err)
	}

	return &Projection{
		ID:        id,
		Image:     img,
		Transform: tr,
		Weights:   weights,
	}, nil
}
