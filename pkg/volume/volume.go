// Package volume provides typed views over the flat float32 buffers used
// throughout the reconstruction pipeline. All views share the same memory
// layout as the on-disk format: row-major, with the planar index varying
// fastest. Indexes are Go ints, which are 64 bits wide on all supported
// platforms, so cubes larger than 2^31 elements index correctly.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Volume is a cubic reconstruction volume of numVoxels^3 float32 values.
// The flat layout is volume[z*nv*nv + y*nv + x]; a single Z-slice is a
// contiguous run of nv*nv values, which is what makes disjoint per-thread
// slice ownership possible during back-projection.
type Volume struct {
	// data holds the voxel values in flat row-major order.
	data []float32

	// nv is the edge length of the cube in voxels.
	nv int
}

// New allocates a zeroed volume with the given edge length in voxels.
func New(numVoxels int) *Volume {
	if numVoxels < 1 {
		panic(fmt.Sprintf("volume: invalid edge length %d", numVoxels))
	}
	return &Volume{
		data: make([]float32, numVoxels*numVoxels*numVoxels),
		nv:   numVoxels,
	}
}

// FromData wraps an existing flat buffer as a volume. The buffer length
// must be numVoxels^3.
func FromData(data []float32, numVoxels int) (*Volume, error) {
	if want := numVoxels * numVoxels * numVoxels; len(data) != want {
		return nil, fmt.Errorf("volume: buffer has %d values, want %d for edge length %d", len(data), want, numVoxels)
	}
	return &Volume{data: data, nv: numVoxels}, nil
}

// NumVoxels returns the edge length of the cube.
func (v *Volume) NumVoxels() int {
	return v.nv
}

// Len returns the total number of voxels.
func (v *Volume) Len() int {
	return len(v.data)
}

// Data returns the underlying flat buffer. Mutating it mutates the volume.
func (v *Volume) Data() []float32 {
	return v.data
}

// Slice returns the contiguous Z-slice at depth z. The returned slice
// aliases the volume, so writes through it are writes into the volume.
func (v *Volume) Slice(z int) []float32 {
	n := v.nv * v.nv
	return v.data[z*n : (z+1)*n]
}

// At returns the voxel value at (x, y, z).
func (v *Volume) At(x, y, z int) float32 {
	return v.data[v.index(x, y, z)]
}

// Set stores a voxel value at (x, y, z).
func (v *Volume) Set(x, y, z int, val float32) {
	v.data[v.index(x, y, z)] = val
}

func (v *Volume) index(x, y, z int) int {
	if x < 0 || x >= v.nv || y < 0 || y >= v.nv || z < 0 || z >= v.nv {
		panic(fmt.Sprintf("volume: index (%d, %d, %d) out of range for edge length %d", x, y, z, v.nv))
	}
	return z*v.nv*v.nv + y*v.nv + x
}

// Add accumulates other into v element-wise. The two volumes must have the
// same edge length.
func (v *Volume) Add(other *Volume) error {
	if other.nv != v.nv {
		return fmt.Errorf("volume: cannot add volume of edge length %d to volume of edge length %d", other.nv, v.nv)
	}
	for i, val := range other.data {
		v.data[i] += val
	}
	return nil
}

// Sum returns the sum of all voxel values, accumulated in float64 so the
// checksum of a large volume does not saturate float32 precision.
func (v *Volume) Sum() float64 {
	var total float64
	for _, val := range v.data {
		total += float64(val)
	}
	return total
}

// Stats summarizes a volume for the diagnostics report.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// ComputeStats returns min, max, mean and standard deviation of the voxel
// values.
func ComputeStats(v *Volume) Stats {
	vals := make([]float64, len(v.data))
	for i, val := range v.data {
		vals[i] = float64(val)
	}
	return Stats{
		Min:    floats.Min(vals),
		Max:    floats.Max(vals),
		Mean:   stat.Mean(vals, nil),
		StdDev: stat.StdDev(vals, nil),
	}
}
