package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kirilklein/HPC/pkg/cluster"
	"github.com/kirilklein/HPC/pkg/config"
	"github.com/kirilklein/HPC/pkg/reconstruction"
	"github.com/kirilklein/HPC/pkg/stl"
	"github.com/kirilklein/HPC/pkg/visualization"
	"github.com/kirilklein/HPC/pkg/volume"
)

func main() {
	// Parse command line arguments
	numVoxels := flag.Int("num-voxels", 0, "Edge length of the cubic reconstruction volume (required, e.g. 128)")
	inputDir := flag.String("input", "", "Directory containing the scan data (required)")
	outputFile := flag.String("out", "", "File to write the reconstructed volume to")
	configPath := flag.String("config", "", "YAML configuration file")
	numCores := flag.Int("cores", runtime.NumCPU(), "Number of CPU cores to use (default: all available)")
	showStats := flag.Bool("stats", false, "Print volume statistics after reconstruction")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save reconstructed slices along all axes")
	slicesDir := flag.String("slices-dir", "reconstructed_slices", "Directory to save extracted slices")
	stlFile := flag.String("stl", "", "File to write an isosurface mesh of the volume to")
	isoLevel := flag.Float64("iso-level", 0.5, "Isosurface threshold as a fraction of the volume's value range")
	flag.Parse()

	// Validate inputs
	if *numVoxels <= 0 || *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if setFlags["cores"] {
		cfg.Processing.NumCores = *numCores
	}

	topo, err := cluster.FromEnv()
	if err != nil {
		log.Fatalf("Invalid cluster environment: %v", err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	if topo.IsCoordinator() {
		fmt.Println("================================")
		fmt.Println("DISTRIBUTED CONE-BEAM CT RECONSTRUCTION BY PARALLEL BACK-PROJECTION")
		fmt.Println("================================")
	}
	fmt.Printf("CT Reconstruction running on `%s`, rank %d out of %d.\n", host, topo.Rank, topo.Size)

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Cluster.DialTimeoutSec)*time.Second)
	comm, err := cluster.Connect(dialCtx, topo)
	cancel()
	if err != nil {
		log.Fatalf("Failed to join the cluster: %v", err)
	}
	defer comm.Close()

	// Initialize reconstruction parameters
	params := &reconstruction.Params{
		NumVoxels:    *numVoxels,
		InputDir:     *inputDir,
		OutputFile:   *outputFile,
		NumThreads:   cfg.Processing.NumCores,
		MaxOpenFiles: cfg.Processing.MaxOpenFiles,
		Dataset:      cfg.Dataset,
		Verbose:      cfg.Output.Verbose,
	}

	reconstructor, err := reconstruction.NewReconstructor(params, comm)
	if err != nil {
		log.Fatalf("Invalid reconstruction parameters: %v", err)
	}
	defer reconstructor.Close()

	result, err := reconstructor.Process(context.Background())
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}

	// Only the coordinator holds the reduced volume; workers are done here.
	if !topo.IsCoordinator() {
		return
	}

	fmt.Printf("\nchecksum: %v\n", result.Checksum)
	fmt.Printf("elapsed time: %f sec\n", result.Timing.Elapsed.Seconds())
	fmt.Printf("reading time: %f sec\n", result.Timing.Reading.Seconds())
	fmt.Printf("writing time: %f sec\n", result.Timing.Writing.Seconds())
	fmt.Printf("computation time: %f sec\n", result.Timing.Compute.Seconds())

	if *outputFile != "" {
		fmt.Printf("\nReconstructed volume saved to: %s\n", *outputFile)
	}

	var stats volume.Stats
	if *showStats || *stlFile != "" {
		stats = volume.ComputeStats(result.Volume)
	}

	if *showStats {
		fmt.Printf("\nVolume statistics:\n")
		fmt.Printf("==================\n")
		fmt.Printf("Min: %.6f\n", stats.Min)
		fmt.Printf("Max: %.6f\n", stats.Max)
		fmt.Printf("Mean: %.6f\n", stats.Mean)
		fmt.Printf("Standard deviation: %.6f\n", stats.StdDev)
	}

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting reconstructed slices along all axes...")

		viewer := visualization.NewViewer(result.Volume)

		// Extract and save slices along each axis
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}

		fmt.Println("Slice extraction completed!")
	}

	// Generate an isosurface mesh if requested
	if *stlFile != "" {
		iso := float32(stats.Min + *isoLevel*(stats.Max-stats.Min))
		nv := result.Volume.NumVoxels()

		mc := stl.NewMarchingCubes(result.Volume.Data(), nv, nv, nv, iso)
		mc.SetScale(1.0, 1.0, 1.0)

		triangles := mc.GenerateTriangles()
		if err := stl.SaveToSTL(*stlFile, triangles); err != nil {
			log.Fatalf("Failed to save STL file: %v", err)
		}
		fmt.Printf("\nIsosurface mesh with %d triangles saved to: %s\n", len(triangles), *stlFile)
	}
}
