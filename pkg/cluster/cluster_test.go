package cluster

import (
	"context"
	"testing"
)

func TestFromEnv(t *testing.T) {
	// Empty values count as unset, which is also what lets these
	// subtests isolate themselves from the ambient environment.
	clearEnv := func(t *testing.T) {
		t.Setenv(EnvRank, "")
		t.Setenv(EnvWorldSize, "")
		t.Setenv(EnvCoordinator, "")
	}

	t.Run("Standalone", func(t *testing.T) {
		clearEnv(t)
		topo, err := FromEnv()
		if err != nil {
			t.Fatalf("Failed to build topology: %v", err)
		}
		if topo.Rank != 0 || topo.Size != 1 {
			t.Errorf("Topology = rank %d size %d, want rank 0 size 1", topo.Rank, topo.Size)
		}
		if !topo.IsCoordinator() {
			t.Error("Standalone process must be the coordinator")
		}
	})

	t.Run("FullySpecified", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRank, "2")
		t.Setenv(EnvWorldSize, "4")
		t.Setenv(EnvCoordinator, "node0:7117")

		topo, err := FromEnv()
		if err != nil {
			t.Fatalf("Failed to build topology: %v", err)
		}
		if topo.Rank != 2 || topo.Size != 4 || topo.Coordinator != "node0:7117" {
			t.Errorf("Topology = %+v, want rank 2 size 4 coordinator node0:7117", topo)
		}
		if topo.IsCoordinator() {
			t.Error("Rank 2 must not be the coordinator")
		}
	})

	t.Run("InvalidRank", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRank, "abc")
		t.Setenv(EnvWorldSize, "2")
		t.Setenv(EnvCoordinator, "node0:7117")
		if _, err := FromEnv(); err == nil {
			t.Error("Expected error for non-numeric rank")
		}
	})

	t.Run("RankOutOfRange", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRank, "4")
		t.Setenv(EnvWorldSize, "4")
		t.Setenv(EnvCoordinator, "node0:7117")
		if _, err := FromEnv(); err == nil {
			t.Error("Expected error for rank equal to world size")
		}
	})

	t.Run("MissingRank", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvWorldSize, "2")
		t.Setenv(EnvCoordinator, "node0:7117")
		if _, err := FromEnv(); err == nil {
			t.Error("Expected error when world size is set without a rank")
		}
	})

	t.Run("MissingCoordinator", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRank, "1")
		t.Setenv(EnvWorldSize, "2")
		if _, err := FromEnv(); err == nil {
			t.Error("Expected error when a multi-worker run names no coordinator")
		}
	})
}

func TestLoopback(t *testing.T) {
	comm := Loopback()
	defer comm.Close()

	if comm.Rank() != 0 || comm.Size() != 1 {
		t.Errorf("Loopback = rank %d size %d, want rank 0 size 1", comm.Rank(), comm.Size())
	}

	partial := []float32{1, 2, 3}
	total, err := comm.ReduceSum(context.Background(), partial)
	if err != nil {
		t.Fatalf("Failed to reduce: %v", err)
	}
	for i := range partial {
		if total[i] != partial[i] {
			t.Errorf("Total[%d] = %v, want %v", i, total[i], partial[i])
		}
	}

	if err := comm.Barrier(context.Background()); err != nil {
		t.Errorf("Barrier failed: %v", err)
	}

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := comm.ReduceSum(ctx, partial); err == nil {
			t.Error("Expected error from reduce on a canceled context")
		}
		if err := comm.Barrier(ctx); err == nil {
			t.Error("Expected error from barrier on a canceled context")
		}
	})
}

func TestConnectSingleWorker(t *testing.T) {
	comm, err := Connect(context.Background(), Topology{Rank: 0, Size: 1})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer comm.Close()

	if comm.Size() != 1 {
		t.Errorf("Size = %d, want 1", comm.Size())
	}
}

func TestConnectInvalidTopology(t *testing.T) {
	if _, err := Connect(context.Background(), Topology{Rank: 0, Size: 0}); err == nil {
		t.Error("Expected error for zero world size")
	}
	if _, err := Connect(context.Background(), Topology{Rank: 3, Size: 2, Coordinator: "127.0.0.1:0"}); err == nil {
		t.Error("Expected error for rank outside the world")
	}
}
