package volume

import "fmt"

// Image2D is a detector image of rows x columns float32 pixels in row-major
// order, i.e. pixel (row, col) lives at data[row*cols + col].
type Image2D struct {
	data []float32
	rows int
	cols int
}

// NewImage2D wraps a flat pixel buffer as a detector image. The buffer
// length must be rows*cols.
func NewImage2D(data []float32, rows, cols int) (*Image2D, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("image: buffer has %d values, want %d for %dx%d", len(data), rows*cols, rows, cols)
	}
	return &Image2D{data: data, rows: rows, cols: cols}, nil
}

// Rows returns the number of detector rows.
func (im *Image2D) Rows() int { return im.rows }

// Cols returns the number of detector columns.
func (im *Image2D) Cols() int { return im.cols }

// At returns the pixel at (row, col).
func (im *Image2D) At(row, col int) float32 {
	if !im.Contains(row, col) {
		panic(fmt.Sprintf("image: pixel (%d, %d) out of range for %dx%d", row, col, im.rows, im.cols))
	}
	return im.data[row*im.cols+col]
}

// Contains reports whether (row, col) is inside the detector.
func (im *Image2D) Contains(row, col int) bool {
	return row >= 0 && row < im.rows && col >= 0 && col < im.cols
}

// Data returns the underlying flat pixel buffer.
func (im *Image2D) Data() []float32 { return im.data }

// Planes is a stack of equally sized planes over one contiguous buffer,
// laid out plane after plane. The geometry file stores the four rows of the
// per-voxel homogeneous coordinate grid this way.
type Planes struct {
	data []float32
	n    int
}

// NewPlanes wraps a flat buffer as count planes of n values each.
func NewPlanes(data []float32, count, n int) (*Planes, error) {
	if len(data) != count*n {
		return nil, fmt.Errorf("planes: buffer has %d values, want %d for %d planes of %d", len(data), count*n, count, n)
	}
	return &Planes{data: data, n: n}, nil
}

// Plane returns the j-th plane. The returned slice aliases the buffer.
func (p *Planes) Plane(j int) []float32 {
	return p.data[j*p.n : (j+1)*p.n]
}

// PlaneLen returns the number of values per plane.
func (p *Planes) PlaneLen() int { return p.n }

// Transform is a 3x4 projective matrix stored row-major, mapping a
// homogeneous voxel coordinate (x, y, z, w) to an unnormalized detector
// coordinate (u, v, d). Dividing u and v by d yields detector column and
// row.
type Transform [12]float32

// Apply multiplies the matrix with the homogeneous coordinate vector.
// All arithmetic is float32, matching the precision of the stored data.
func (t *Transform) Apply(x, y, z, w float32) (u, v, d float32) {
	u = t[0]*x + t[1]*y + t[2]*z + t[3]*w
	v = t[4]*x + t[5]*y + t[6]*z + t[7]*w
	d = t[8]*x + t[9]*y + t[10]*z + t[11]*w
	return u, v, d
}
