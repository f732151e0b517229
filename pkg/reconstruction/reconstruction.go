// Package reconstruction implements distributed filtered back-projection of
// cone-beam CT scans. Projections are split statically across worker
// processes; each worker back-projects its share into a private partial
// volume with thread-parallel Z slices, and the partials are sum-reduced
// onto the coordinator, which owns the final volume.
package reconstruction

import (
	"context"
	"fmt"
	"time"

	"github.com/kirilklein/HPC/pkg/binio"
	"github.com/kirilklein/HPC/pkg/cluster"
	"github.com/kirilklein/HPC/pkg/config"
	"github.com/kirilklein/HPC/pkg/ctdata"
	"github.com/kirilklein/HPC/pkg/volume"
)

// Params holds the reconstruction parameters. They control the input and
// output locations and the processing configuration of one run.
type Params struct {
	// NumVoxels is the edge length of the reconstruction volume. The
	// dataset directory must contain a precomputed geometry subdirectory
	// for this size.
	NumVoxels int

	// InputDir is the dataset directory containing projections.bin,
	// transform.bin and the per-size geometry subdirectories.
	InputDir string

	// OutputFile is where the coordinator writes the reconstructed
	// volume as flat float32 values. Empty means the volume is not
	// written; the checksum is still computed and reported.
	OutputFile string

	// NumThreads specifies how many threads back-project Z slices in
	// parallel within this process.
	NumThreads int

	// MaxOpenFiles bounds the dataset reader's file handle cache.
	MaxOpenFiles int

	// Dataset describes the projection count and detector dimensions of
	// the input files.
	Dataset config.Dataset

	// Verbose enables per-phase progress output.
	Verbose bool
}

// Validate checks that the parameters describe a runnable reconstruction.
func (p *Params) Validate() error {
	if p.NumVoxels < 1 {
		return fmt.Errorf("invalid params: numVoxels must be at least 1, got %d", p.NumVoxels)
	}
	if p.InputDir == "" {
		return fmt.Errorf("invalid params: no input directory")
	}
	if p.NumThreads < 1 {
		return fmt.Errorf("invalid params: numThreads must be at least 1, got %d", p.NumThreads)
	}
	if p.Dataset.NumProjections < 1 {
		return fmt.Errorf("invalid params: numProjections must be at least 1, got %d", p.Dataset.NumProjections)
	}
	if p.Dataset.DetectorRows < 1 || p.Dataset.DetectorColumns < 1 {
		return fmt.Errorf("invalid params: detector dimensions must be at least 1x1, got %dx%d",
			p.Dataset.DetectorRows, p.Dataset.DetectorColumns)
	}
	return nil
}

// Timing is the wall-clock cost breakdown of a run, reported by the
// coordinator. Reading and Compute accumulate over this rank's projection
// loop; Writing covers the output write; Elapsed is the whole run.
type Timing struct {
	Elapsed time.Duration
	Reading time.Duration
	Compute time.Duration
	Writing time.Duration
}

// Result is the outcome of a reconstruction run. Volume and Checksum are
// populated on the coordinator only; worker ranks contribute their partials
// through the reduction and end up with neither.
type Result struct {
	Volume   *volume.Volume
	Checksum float64
	Timing   Timing
}

// Reconstructor runs the distributed back-projection. Create one per
// process with NewReconstructor, then call Process once.
type Reconstructor struct {
	params *Params
	comm   cluster.Communicator
	reader *binio.Reader
	loader *ctdata.Loader
}

// NewReconstructor creates a reconstructor for this process's share of the
// run. The communicator decides the share: rank r of size w processes the
// r-th contiguous block of projections.
func NewReconstructor(params *Params, comm cluster.Communicator) (*Reconstructor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	reader, err := binio.NewReader(params.MaxOpenFiles)
	if err != nil {
		return nil, err
	}

	return &Reconstructor{
		params: params,
		comm:   comm,
		reader: reader,
		loader: ctdata.NewLoader(reader, params.InputDir, params.NumVoxels, params.Dataset),
	}, nil
}

// Close releases the reconstructor's file handles.
func (r *Reconstructor) Close() error {
	return r.reader.Close()
}

// Partition returns this rank's half-open range of projection ids. Every
// rank gets total/size projections; the last rank also absorbs the
// remainder, so worker counts that divide the projection count evenly
// balance best. With more workers than projections, all work lands on the
// last rank and the rest contribute empty partials.
func Partition(total, size, rank int) (start, stop int) {
	base := total / size
	start = rank * base
	if rank != size-1 {
		stop = (rank + 1) * base
	} else {
		stop = total
	}
	return start, stop
}

// Process runs this rank's share of the reconstruction and the collectives
// that complete it. On the coordinator the returned result carries the
// reduced volume, its checksum, and the timing breakdown; the output file
// is written only after the reduction has succeeded, so a failed run never
// leaves a partial volume behind.
func (r *Reconstructor) Process(ctx context.Context) (*Result, error) {
	begin := time.Now()
	var timing Timing

	geo, err := r.loader.Geometry()
	if err != nil {
		return nil, err
	}

	vol := volume.New(r.params.NumVoxels)
	start, stop := Partition(r.params.Dataset.NumProjections, r.comm.Size(), r.comm.Rank())
	if r.params.Verbose {
		fmt.Printf("Rank %d: back-projecting projections %d through %d\n", r.comm.Rank(), start, stop-1)
	}

	for id := start; id < stop; id++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		readBegin := time.Now()
		proj, err := r.loader.Projection(id)
		if err != nil {
			return nil, err
		}
		timing.Reading += time.Since(readBegin)

		computeBegin := time.Now()
		backProject(geo, proj, vol, r.params.NumThreads)
		timing.Compute += time.Since(computeBegin)
	}

	if r.params.Verbose {
		fmt.Printf("Rank %d: local back-projection done, reducing\n", r.comm.Rank())
	}

	// Every rank participates in the reduction and the barrier, with or
	// without local work.
	total, err := r.comm.ReduceSum(ctx, vol.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to reduce partial volumes: %v", err)
	}
	if err := r.comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("failed to synchronize after reduction: %v", err)
	}

	result := &Result{}
	if r.comm.Rank() == 0 {
		final, err := volume.FromData(total, r.params.NumVoxels)
		if err != nil {
			return nil, err
		}

		writeBegin := time.Now()
		if r.params.OutputFile != "" {
			if err := binio.WriteFloats(r.params.OutputFile, 0, final.Data()); err != nil {
				return nil, fmt.Errorf("failed to write reconstruction: %v", err)
			}
		}
		timing.Writing = time.Since(writeBegin)

		result.Volume = final
		result.Checksum = final.Sum()
	}

	timing.Elapsed = time.Since(begin)
	result.Timing = timing
	return result, nil
}
