package cluster

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kirilklein/HPC/internal/wire"
)

// dialRetryInterval is how long a worker waits between attempts to reach
// the coordinator, so ranks may be started in any order.
const dialRetryInterval = 100 * time.Millisecond

// tcpComm is the multi-process communicator. The coordinator (rank 0)
// listens and accepts one connection per worker; workers hold a single
// connection to the coordinator. Frames on each connection are strictly
// ordered, so one frame per worker per collective keeps every rank in
// lockstep.
type tcpComm struct {
	topo  Topology
	codec *wire.Codec

	// coordinator state
	listener net.Listener
	addr     string
	peers    []net.Conn

	// worker state
	conn net.Conn
}

func connectTCP(ctx context.Context, topo Topology) (*tcpComm, error) {
	codec, err := wire.NewCodec()
	if err != nil {
		return nil, err
	}
	c := &tcpComm{topo: topo, codec: codec}

	if topo.IsCoordinator() {
		ln, err := net.Listen("tcp", topo.Coordinator)
		if err != nil {
			codec.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", topo.Coordinator, err)
		}
		c.listener = ln
		c.addr = ln.Addr().String()
		c.peers = make([]net.Conn, topo.Size)
		return c, nil
	}

	conn, err := dialRetry(ctx, topo.Coordinator)
	if err != nil {
		codec.Close()
		return nil, err
	}
	if err := c.writeTo(ctx, conn, wire.Frame{Op: wire.OpHello, Rank: topo.Rank}); err != nil {
		conn.Close()
		codec.Close()
		return nil, fmt.Errorf("failed to announce rank %d to coordinator: %w", topo.Rank, err)
	}
	c.conn = conn
	return c, nil
}

func dialRetry(ctx context.Context, addr string) (net.Conn, error) {
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to reach coordinator at %s: %w", addr, ctx.Err())
		case <-time.After(dialRetryInterval):
		}
	}
}

func (c *tcpComm) Rank() int { return c.topo.Rank }
func (c *tcpComm) Size() int { return c.topo.Size }

// Addr returns the coordinator's listen address. Useful when the topology
// named port 0 and the kernel chose the real port.
func (c *tcpComm) Addr() string {
	if c.addr != "" {
		return c.addr
	}
	return c.topo.Coordinator
}

// acceptPeers completes the coordinator's side of the handshake. It runs
// lazily on the first collective so that Connect returns as soon as the
// listener is up, letting workers dial a coordinator that is still loading
// its own data.
func (c *tcpComm) acceptPeers(ctx context.Context) error {
	if c.listener == nil {
		return nil
	}

	ln := c.listener.(*net.TCPListener)
	for have := 1; have < c.topo.Size; have++ {
		stop := watchCancel(ctx, ln)
		conn, err := ln.Accept()
		stop()
		if err != nil {
			c.abort("coordinator gave up waiting for workers")
			return fmt.Errorf("failed to accept worker %d of %d: %w", have, c.topo.Size-1, err)
		}

		f, err := c.readFrom(ctx, conn)
		if err != nil {
			conn.Close()
			c.abort("coordinator could not complete the handshake")
			return fmt.Errorf("failed to read hello: %w", err)
		}
		if f.Op != wire.OpHello {
			conn.Close()
			c.abort("coordinator could not complete the handshake")
			return fmt.Errorf("protocol error: expected hello, got op %d", f.Op)
		}
		if f.Rank < 1 || f.Rank >= c.topo.Size {
			conn.Close()
			c.abort("coordinator could not complete the handshake")
			return fmt.Errorf("hello from invalid rank %d in world of %d", f.Rank, c.topo.Size)
		}
		if c.peers[f.Rank] != nil {
			conn.Close()
			c.abort("coordinator could not complete the handshake")
			return fmt.Errorf("duplicate hello from rank %d", f.Rank)
		}
		c.peers[f.Rank] = conn
	}

	c.listener.Close()
	c.listener = nil
	return nil
}

func (c *tcpComm) ReduceSum(ctx context.Context, partial []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.topo.IsCoordinator() {
		return c.reduceRoot(ctx, partial)
	}
	return nil, c.reduceLeaf(ctx, partial)
}

// reduceRoot accumulates every worker's partial into total, in rank order
// so repeated runs sum in the same order, then releases the workers.
func (c *tcpComm) reduceRoot(ctx context.Context, total []float32) ([]float32, error) {
	if err := c.acceptPeers(ctx); err != nil {
		return nil, err
	}

	for rank := 1; rank < c.topo.Size; rank++ {
		f, err := c.readFrom(ctx, c.peers[rank])
		if err != nil {
			c.abort("reduce failed")
			return nil, fmt.Errorf("failed to receive partial from rank %d: %w", rank, err)
		}
		if f.Op == wire.OpAbort {
			c.abort("reduce failed")
			return nil, fmt.Errorf("rank %d aborted the reduce: %s", f.Rank, f.Payload)
		}
		if f.Op != wire.OpReduce || f.Rank != rank {
			c.abort("reduce failed")
			return nil, fmt.Errorf("protocol error: expected partial from rank %d, got op %d from rank %d", rank, f.Op, f.Rank)
		}

		vals, err := c.codec.DecompressFloats(f.Payload, len(total))
		if err != nil {
			c.abort("reduce failed")
			return nil, fmt.Errorf("bad partial from rank %d: %v", rank, err)
		}
		for i, v := range vals {
			total[i] += v
		}
	}

	for rank := 1; rank < c.topo.Size; rank++ {
		if err := c.writeTo(ctx, c.peers[rank], wire.Frame{Op: wire.OpReduceAck}); err != nil {
			c.abort("reduce failed")
			return nil, fmt.Errorf("failed to release rank %d: %w", rank, err)
		}
	}
	return total, nil
}

func (c *tcpComm) reduceLeaf(ctx context.Context, partial []float32) error {
	payload := c.codec.CompressFloats(partial)
	f := wire.Frame{Op: wire.OpReduce, Rank: c.topo.Rank, Payload: payload}
	if err := c.writeTo(ctx, c.conn, f); err != nil {
		return fmt.Errorf("failed to send partial to coordinator: %w", err)
	}
	return c.awaitAck(ctx, wire.OpReduceAck, "reduce")
}

func (c *tcpComm) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !c.topo.IsCoordinator() {
		f := wire.Frame{Op: wire.OpBarrier, Rank: c.topo.Rank}
		if err := c.writeTo(ctx, c.conn, f); err != nil {
			return fmt.Errorf("failed to announce barrier arrival: %w", err)
		}
		return c.awaitAck(ctx, wire.OpBarrierAck, "barrier")
	}

	if err := c.acceptPeers(ctx); err != nil {
		return err
	}
	for rank := 1; rank < c.topo.Size; rank++ {
		f, err := c.readFrom(ctx, c.peers[rank])
		if err != nil {
			c.abort("barrier failed")
			return fmt.Errorf("failed to receive barrier arrival from rank %d: %w", rank, err)
		}
		if f.Op == wire.OpAbort {
			c.abort("barrier failed")
			return fmt.Errorf("rank %d aborted the barrier: %s", f.Rank, f.Payload)
		}
		if f.Op != wire.OpBarrier || f.Rank != rank {
			c.abort("barrier failed")
			return fmt.Errorf("protocol error: expected barrier arrival from rank %d, got op %d from rank %d", rank, f.Op, f.Rank)
		}
	}
	for rank := 1; rank < c.topo.Size; rank++ {
		if err := c.writeTo(ctx, c.peers[rank], wire.Frame{Op: wire.OpBarrierAck}); err != nil {
			c.abort("barrier failed")
			return fmt.Errorf("failed to release rank %d: %w", rank, err)
		}
	}
	return nil
}

// awaitAck blocks until the coordinator releases this worker from the
// current collective.
func (c *tcpComm) awaitAck(ctx context.Context, want uint8, what string) error {
	f, err := c.readFrom(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("%s did not complete: %w", what, err)
	}
	switch f.Op {
	case want:
		return nil
	case wire.OpAbort:
		return fmt.Errorf("%s aborted by coordinator: %s", what, f.Payload)
	default:
		return fmt.Errorf("protocol error: unexpected op %d while awaiting %s ack", f.Op, what)
	}
}

// abort notifies every reachable peer that the current collective is dead.
// Best effort: peers that cannot be reached will fail on their own reads.
func (c *tcpComm) abort(msg string) {
	f := wire.Frame{Op: wire.OpAbort, Rank: c.topo.Rank, Payload: []byte(msg)}
	if c.conn != nil {
		wire.WriteFrame(c.conn, f)
	}
	for _, p := range c.peers {
		if p != nil {
			wire.WriteFrame(p, f)
		}
	}
}

func (c *tcpComm) Close() error {
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	for i, p := range c.peers {
		if p != nil {
			p.Close()
			c.peers[i] = nil
		}
	}
	c.codec.Close()
	return nil
}

func (c *tcpComm) readFrom(ctx context.Context, conn net.Conn) (wire.Frame, error) {
	defer watchCancel(ctx, conn)()
	return wire.ReadFrame(conn)
}

func (c *tcpComm) writeTo(ctx context.Context, conn net.Conn, f wire.Frame) error {
	defer watchCancel(ctx, conn)()
	return wire.WriteFrame(conn, f)
}

// deadliner is the part of net.Conn and net.TCPListener that watchCancel
// needs.
type deadliner interface {
	SetDeadline(time.Time) error
}

// watchCancel applies the context deadline to d and additionally wakes any
// blocked I/O if the context is canceled outright. The returned stop
// function must be called when the I/O completes.
func watchCancel(ctx context.Context, d deadliner) func() {
	if deadline, ok := ctx.Deadline(); ok {
		d.SetDeadline(deadline)
	} else {
		d.SetDeadline(time.Time{})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}
