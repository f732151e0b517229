// Package cluster coordinates the worker processes of a distributed
// reconstruction run. Each process learns its place in the run from the
// environment, connects to the coordinator over TCP, and then takes part in
// the collective operations the reconstruction needs: a sum-reduction of
// partial volumes onto the coordinator and a barrier before output is
// written.
//
// Every collective is called by every rank in the same order. A rank that
// fails mid-collective causes an error on all reachable ranks rather than a
// hang: the coordinator aborts the remaining workers explicitly, and
// workers give up when their connection breaks or the context expires.
package cluster

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Environment variables describing a process's place in the run. A process
// started with none of them set runs standalone as rank 0 of a
// single-worker world.
const (
	EnvRank        = "CTRECON_RANK"
	EnvWorldSize   = "CTRECON_WORLD_SIZE"
	EnvCoordinator = "CTRECON_COORDINATOR"
)

// Topology describes one process's place in the worker group. It is
// captured once at startup and passed explicitly to everything that needs
// it.
type Topology struct {
	// Rank identifies this process, 0 through Size-1. Rank 0 is the
	// coordinator: it owns the reduction result and writes the output.
	Rank int

	// Size is the total number of worker processes in the run.
	Size int

	// Coordinator is the host:port the coordinator listens on. Unused
	// when Size is 1.
	Coordinator string
}

// IsCoordinator reports whether this process owns the reduction result.
func (t Topology) IsCoordinator() bool {
	return t.Rank == 0
}

// FromEnv builds the topology from the CTRECON_* environment variables.
// With none of them set it returns the standalone topology (rank 0, size
// 1). A partially or inconsistently specified environment is an error.
func FromEnv() (Topology, error) {
	topo := Topology{Rank: 0, Size: 1}

	// An empty value counts as unset, so wrapper scripts may pass the
	// variables through unconditionally.
	if v := os.Getenv(EnvWorldSize); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return Topology{}, fmt.Errorf("invalid %s %q: must be a positive integer", EnvWorldSize, v)
		}
		topo.Size = size
	}

	if v := os.Getenv(EnvRank); v != "" {
		rank, err := strconv.Atoi(v)
		if err != nil || rank < 0 {
			return Topology{}, fmt.Errorf("invalid %s %q: must be a non-negative integer", EnvRank, v)
		}
		topo.Rank = rank
	} else if topo.Size > 1 {
		return Topology{}, fmt.Errorf("%s must be set when %s is %d", EnvRank, EnvWorldSize, topo.Size)
	}

	if topo.Rank >= topo.Size {
		return Topology{}, fmt.Errorf("rank %d out of range for world size %d", topo.Rank, topo.Size)
	}

	topo.Coordinator = os.Getenv(EnvCoordinator)
	if topo.Size > 1 && topo.Coordinator == "" {
		return Topology{}, fmt.Errorf("%s must be set when %s is %d", EnvCoordinator, EnvWorldSize, topo.Size)
	}

	return topo, nil
}

// Communicator is the collective communication surface the reconstruction
// uses. Implementations are not safe for concurrent collectives; every rank
// must call the same collectives in the same order.
type Communicator interface {
	// Rank returns this process's rank.
	Rank() int

	// Size returns the number of processes in the run.
	Size() int

	// ReduceSum element-wise sums the partial buffers of all ranks. The
	// coordinator receives the total, which may share memory with its
	// partial; every other rank receives nil. All ranks must pass
	// buffers of the same length. No rank returns before every rank has
	// contributed.
	ReduceSum(ctx context.Context, partial []float32) ([]float32, error)

	// Barrier returns once every rank has reached it.
	Barrier(ctx context.Context) error

	// Close releases connections. It must not be called while a
	// collective is in flight.
	Close() error
}

// Connect establishes the communicator for this process: a loopback for a
// single-worker run, otherwise the TCP implementation. Workers keep
// redialing the coordinator until the context expires, so ranks may start
// in any order.
func Connect(ctx context.Context, topo Topology) (Communicator, error) {
	if topo.Size < 1 {
		return nil, fmt.Errorf("invalid topology: world size %d", topo.Size)
	}
	if topo.Rank < 0 || topo.Rank >= topo.Size {
		return nil, fmt.Errorf("invalid topology: rank %d out of range for world size %d", topo.Rank, topo.Size)
	}
	if topo.Size == 1 {
		return Loopback(), nil
	}
	return connectTCP(ctx, topo)
}

// Loopback returns the communicator for a single-process run. ReduceSum
// returns its input unchanged and Barrier is immediate.
func Loopback() Communicator {
	return loopback{}
}

type loopback struct{}

func (loopback) Rank() int { return 0 }
func (loopback) Size() int { return 1 }

func (loopback) ReduceSum(ctx context.Context, partial []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return partial, nil
}

func (loopback) Barrier(ctx context.Context) error {
	return ctx.Err()
}

func (loopback) Close() error { return nil }
