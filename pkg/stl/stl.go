package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Triangle is a single face of a triangulated surface mesh. The normal
// has unit length and points from values above the iso level toward
// values below it.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// MarchingCubes extracts an isosurface mesh from a scalar field sampled on
// a regular grid. Each grid cell is decomposed into six tetrahedra that
// share the cell's main diagonal, and each tetrahedron is contoured
// independently. Neighboring cells split their shared faces along the same
// diagonal, so the resulting mesh is consistent across cell boundaries.
type MarchingCubes struct {
	// data holds the scalar field in x-fastest order
	data []float32

	// dimensions of the grid
	width  int
	height int
	depth  int

	// isoLevel is the threshold separating inside from outside
	isoLevel float32

	// scale is the physical size of one grid step along each axis
	scale [3]float32
}

// NewMarchingCubes creates a mesh extractor for the given scalar field.
// The data slice must hold width*height*depth values.
func NewMarchingCubes(data []float32, width, height, depth int, isoLevel float32) *MarchingCubes {
	return &MarchingCubes{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		scale:    [3]float32{1, 1, 1},
	}
}

// SetScale sets the physical size of one grid step along each axis.
func (mc *MarchingCubes) SetScale(x, y, z float32) {
	mc.scale = [3]float32{x, y, z}
}

func (mc *MarchingCubes) value(x, y, z int) float32 {
	return mc.data[z*mc.width*mc.height+y*mc.width+x]
}

// Cell corners numbered with the bottom face first, counterclockwise
// from the origin corner.
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// Six tetrahedra tiling the cell, all sharing the 0-6 diagonal.
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// GenerateTriangles walks every grid cell and collects the isosurface
// triangles crossing it.
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	var triangles []Triangle

	var pts [8][3]float32
	var vals [8]float32

	for z := 0; z < mc.depth-1; z++ {
		for y := 0; y < mc.height-1; y++ {
			for x := 0; x < mc.width-1; x++ {
				for i, c := range cubeCorners {
					cx, cy, cz := x+c[0], y+c[1], z+c[2]
					pts[i] = [3]float32{
						float32(cx) * mc.scale[0],
						float32(cy) * mc.scale[1],
						float32(cz) * mc.scale[2],
					}
					vals[i] = mc.value(cx, cy, cz)
				}

				for _, tet := range cubeTetrahedra {
					triangles = mc.contourTetrahedron(triangles, &pts, &vals, tet)
				}
			}
		}
	}

	return triangles
}

// contourTetrahedron appends the triangles where the isosurface crosses one
// tetrahedron. Corners are split into those above and those at or below the
// iso level; one corner apart yields a single triangle, two corners apart
// yield a quad split into two.
func (mc *MarchingCubes) contourTetrahedron(out []Triangle, pts *[8][3]float32, vals *[8]float32, tet [4]int) []Triangle {
	var above, below [4]int
	na, nb := 0, 0
	for _, ci := range tet {
		if vals[ci] > mc.isoLevel {
			above[na] = ci
			na++
		} else {
			below[nb] = ci
			nb++
		}
	}

	if na == 0 || na == 4 {
		return out
	}

	// Orientation vector from the above-side centroid to the below-side
	// centroid. Triangles are wound so their normals agree with it.
	var dir [3]float32
	for k := 0; k < 3; k++ {
		var ca, cb float32
		for i := 0; i < na; i++ {
			ca += pts[above[i]][k]
		}
		for i := 0; i < nb; i++ {
			cb += pts[below[i]][k]
		}
		dir[k] = cb/float32(nb) - ca/float32(na)
	}

	switch na {
	case 1:
		a := above[0]
		return appendTriangle(out,
			mc.edgePoint(pts, vals, a, below[0]),
			mc.edgePoint(pts, vals, a, below[1]),
			mc.edgePoint(pts, vals, a, below[2]),
			dir)

	case 3:
		b := below[0]
		return appendTriangle(out,
			mc.edgePoint(pts, vals, above[0], b),
			mc.edgePoint(pts, vals, above[1], b),
			mc.edgePoint(pts, vals, above[2], b),
			dir)

	default: // two corners on each side
		a0, a1 := above[0], above[1]
		b0, b1 := below[0], below[1]
		p00 := mc.edgePoint(pts, vals, a0, b0)
		p01 := mc.edgePoint(pts, vals, a0, b1)
		p11 := mc.edgePoint(pts, vals, a1, b1)
		p10 := mc.edgePoint(pts, vals, a1, b0)
		out = appendTriangle(out, p00, p01, p11, dir)
		return appendTriangle(out, p00, p11, p10, dir)
	}
}

// edgePoint interpolates where the isosurface crosses the edge between two
// tetrahedron corners.
func (mc *MarchingCubes) edgePoint(pts *[8][3]float32, vals *[8]float32, a, b int) [3]float32 {
	fa, fb := vals[a], vals[b]
	t := float32(0.5)
	if fa != fb {
		t = (mc.isoLevel - fa) / (fb - fa)
	}
	return [3]float32{
		pts[a][0] + t*(pts[b][0]-pts[a][0]),
		pts[a][1] + t*(pts[b][1]-pts[a][1]),
		pts[a][2] + t*(pts[b][2]-pts[a][2]),
	}
}

// appendTriangle winds the vertices to match the orientation vector,
// computes the unit normal and appends the triangle. Degenerate triangles
// with no area are dropped.
func appendTriangle(out []Triangle, p1, p2, p3, dir [3]float32) []Triangle {
	e1 := [3]float32{p2[0] - p1[0], p2[1] - p1[1], p2[2] - p1[2]}
	e2 := [3]float32{p3[0] - p1[0], p3[1] - p1[1], p3[2] - p1[2]}

	n := [3]float32{
		e1[1]*e2[2] - e1[2]*e2[1],
		e1[2]*e2[0] - e1[0]*e2[2],
		e1[0]*e2[1] - e1[1]*e2[0],
	}

	if n[0]*dir[0]+n[1]*dir[1]+n[2]*dir[2] < 0 {
		p2, p3 = p3, p2
		n[0], n[1], n[2] = -n[0], -n[1], -n[2]
	}

	mag := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	if mag == 0 {
		return out
	}

	return append(out, Triangle{
		Normal:  [3]float32{n[0] / mag, n[1] / mag, n[2] / mag},
		Vertex1: p1,
		Vertex2: p2,
		Vertex3: p3,
	})
}

// SaveToSTL writes the triangles to a binary STL file.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %v", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	var header [80]byte
	copy(header[:], "Binary STL isosurface mesh")
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %v", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %v", err)
	}

	for i := range triangles {
		if err := binary.Write(w, binary.LittleEndian, &triangles[i]); err != nil {
			return fmt.Errorf("failed to write triangle %d: %v", i, err)
		}
		// Attribute byte count, unused
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return fmt.Errorf("failed to write triangle %d: %v", i, err)
		}
	}

	return w.Flush()
}
