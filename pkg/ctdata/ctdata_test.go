package ctdata

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/kirilklein/HPC/pkg/binio"
	"github.com/kirilklein/HPC/pkg/config"
)

const (
	testNumVoxels   = 2
	testProjections = 3
	testRows        = 2
	testCols        = 3
)

func testDataset() config.Dataset {
	return config.Dataset{
		NumProjections:  testProjections,
		DetectorRows:    testRows,
		DetectorColumns: testCols,
	}
}

// writeTestDataset lays out a tiny dataset whose values encode their own
// file positions, so offset mistakes show up as wrong values.
func writeTestDataset(t *testing.T, dir string) {
	t.Helper()

	voxelDir := filepath.Join(dir, strconv.Itoa(testNumVoxels))
	if err := os.MkdirAll(voxelDir, 0755); err != nil {
		t.Fatalf("Failed to create voxel dir: %v", err)
	}

	size := testNumVoxels * testNumVoxels

	// Four planes, value = 100*plane + index
	combined := make([]float32, 4*size)
	for j := 0; j < 4; j++ {
		for i := 0; i < size; i++ {
			combined[j*size+i] = float32(100*j + i)
		}
	}
	if err := binio.WriteFloats(filepath.Join(voxelDir, "combined.bin"), 0, combined); err != nil {
		t.Fatalf("Failed to write combined.bin: %v", err)
	}

	zCoords := make([]float32, testNumVoxels)
	for z := range zCoords {
		zCoords[z] = float32(z) + 0.5
	}
	if err := binio.WriteFloats(filepath.Join(voxelDir, "z_voxel_coords.bin"), 0, zCoords); err != nil {
		t.Fatalf("Failed to write z_voxel_coords.bin: %v", err)
	}

	// Projection p, pixel k = 1000*p + k
	pixels := make([]float32, testProjections*testRows*testCols)
	for p := 0; p < testProjections; p++ {
		for k := 0; k < testRows*testCols; k++ {
			pixels[p*testRows*testCols+k] = float32(1000*p + k)
		}
	}
	if err := binio.WriteFloats(filepath.Join(dir, "projections.bin"), 0, pixels); err != nil {
		t.Fatalf("Failed to write projections.bin: %v", err)
	}

	// Projection p, matrix element e = 10*p + e
	matrices := make([]float32, testProjections*12)
	for p := 0; p < testProjections; p++ {
		for e := 0; e < 12; e++ {
			matrices[p*12+e] = float32(10*p + e)
		}
	}
	if err := binio.WriteFloats(filepath.Join(dir, "transform.bin"), 0, matrices); err != nil {
		t.Fatalf("Failed to write transform.bin: %v", err)
	}

	// Projection p, weight i = 100*p + i
	weights := make([]float32, testProjections*size)
	for p := 0; p < testProjections; p++ {
		for i := 0; i < size; i++ {
			weights[p*size+i] = float32(100*p + i)
		}
	}
	if err := binio.WriteFloats(filepath.Join(voxelDir, "volumeweight.bin"), 0, weights); err != nil {
		t.Fatalf("Failed to write volumeweight.bin: %v", err)
	}
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	reader, err := binio.NewReader(0)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return NewLoader(reader, dir, testNumVoxels, testDataset())
}

func TestLoadGeometry(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctdata-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)
	writeTestDataset(t, dir)

	geo, err := newTestLoader(t, dir).Geometry()
	if err != nil {
		t.Fatalf("Failed to load geometry: %v", err)
	}

	size := testNumVoxels * testNumVoxels
	for j := 0; j < 4; j++ {
		plane := geo.Planes.Plane(j)
		if len(plane) != size {
			t.Fatalf("Plane %d has %d values, want %d", j, len(plane), size)
		}
		for i := 0; i < size; i++ {
			if want := float32(100*j + i); plane[i] != want {
				t.Errorf("Plane %d value %d = %v, want %v", j, i, plane[i], want)
			}
		}
	}

	if len(geo.ZCoords) != testNumVoxels {
		t.Fatalf("ZCoords has %d values, want %d", len(geo.ZCoords), testNumVoxels)
	}
	for z, want := range []float32{0.5, 1.5} {
		if geo.ZCoords[z] != want {
			t.Errorf("ZCoords[%d] = %v, want %v", z, geo.ZCoords[z], want)
		}
	}
}

func TestLoadProjection(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctdata-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)
	writeTestDataset(t, dir)

	loader := newTestLoader(t, dir)

	// Projection 1 must come from the second record of every file
	proj, err := loader.Projection(1)
	if err != nil {
		t.Fatalf("Failed to load projection: %v", err)
	}

	if proj.ID != 1 {
		t.Errorf("ID = %d, want 1", proj.ID)
	}
	if proj.Image.Rows() != testRows || proj.Image.Cols() != testCols {
		t.Errorf("Image = %dx%d, want %dx%d", proj.Image.Rows(), proj.Image.Cols(), testRows, testCols)
	}
	// Pixel (row, col) = 1000*p + row*cols + col
	if got := proj.Image.At(1, 2); got != 1005 {
		t.Errorf("Image.At(1,2) = %v, want 1005", got)
	}
	if got := proj.Image.At(0, 0); got != 1000 {
		t.Errorf("Image.At(0,0) = %v, want 1000", got)
	}

	for e := 0; e < 12; e++ {
		if want := float32(10 + e); proj.Transform[e] != want {
			t.Errorf("Transform[%d] = %v, want %v", e, proj.Transform[e], want)
		}
	}

	size := testNumVoxels * testNumVoxels
	if len(proj.Weights) != size {
		t.Fatalf("Weights has %d values, want %d", len(proj.Weights), size)
	}
	for i := 0; i < size; i++ {
		if want := float32(100 + i); proj.Weights[i] != want {
			t.Errorf("Weights[%d] = %v, want %v", i, proj.Weights[i], want)
		}
	}
}

func TestLoadProjectionOutOfRange(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctdata-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)
	writeTestDataset(t, dir)

	loader := newTestLoader(t, dir)
	if _, err := loader.Projection(-1); err == nil {
		t.Error("Expected error for negative projection id")
	}
	if _, err := loader.Projection(testProjections); err == nil {
		t.Error("Expected error for projection id past the dataset")
	}
}

func TestLoadMissingDataset(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctdata-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	loader := newTestLoader(t, dir)
	if _, err := loader.Geometry(); err == nil {
		t.Error("Expected error for missing geometry files")
	}
	if _, err := loader.Projection(0); err == nil {
		t.Error("Expected error for missing projection files")
	}
}

func TestLoadTruncatedDataset(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctdata-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)
	writeTestDataset(t, dir)

	// Chop projections.bin so the last projection is incomplete
	path := filepath.Join(dir, "projections.bin")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat projections.bin: %v", err)
	}
	if err := os.Truncate(path, info.Size()-4); err != nil {
		t.Fatalf("Failed to truncate projections.bin: %v", err)
	}

	loader := newTestLoader(t, dir)
	if _, err := loader.Projection(testProjections - 1); err == nil {
		t.Error("Expected error for truncated projection file")
	}
	if _, err := loader.Projection(0); err != nil {
		t.Errorf("Unexpected error for intact projection: %v", err)
	}
}
