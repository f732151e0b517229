package reconstruction

import (
	"math"

	"github.com/kirilklein/HPC/pkg/ctdata"
	"github.com/kirilklein/HPC/pkg/parallel"
	"github.com/kirilklein/HPC/pkg/volume"
)

// backProject accumulates one projection into the partial volume. Z slices
// are split statically across threads; a slice is owned by exactly one
// thread, so the accumulation needs no locking.
//
// For each voxel the homogeneous grid coordinate (x, y, z, w) is mapped
// through the projection's transform and divided by the homogeneous divisor
// to land on a detector pixel. The pixel indices are rounded half away from
// zero. Rays that land outside the detector are masked out, and so is a
// degenerate divisor: a zero divisor yields a non-finite coordinate, which
// fails the bounds comparison before any integer conversion happens.
//
// All mapping arithmetic is float32; only the rounded pixel coordinates
// pass through float64.
func backProject(geo *ctdata.Geometry, proj *ctdata.Projection, vol *volume.Volume, threads int) {
	nv := vol.NumVoxels()
	size := nv * nv

	planeX := geo.Planes.Plane(0)
	planeY := geo.Planes.Plane(1)
	planeW := geo.Planes.Plane(3)
	tr := proj.Transform

	pixels := proj.Image.Data()
	weights := proj.Weights
	cols := proj.Image.Cols()
	maxCol := float64(proj.Image.Cols())
	maxRow := float64(proj.Image.Rows())

	parallel.For(threads, nv, func(zStart, zStop int) {
		for z := zStart; z < zStop; z++ {
			zCoord := geo.ZCoords[z]
			slice := vol.Slice(z)

			for i := 0; i < size; i++ {
				u, v, d := tr.Apply(planeX[i], planeY[i], zCoord, planeW[i])

				col := math.Round(float64(u / d))
				row := math.Round(float64(v / d))

				if col >= 0 && row >= 0 && col < maxCol && row < maxRow {
					slice[i] += pixels[int(row)*cols+int(col)] * weights[i]
				}
			}
		}
	})
}
