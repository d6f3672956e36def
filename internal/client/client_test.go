package client

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/transport"
	"github.com/warband/battlecore/internal/transport/loopback"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

// fakeSim plays the simulator end of a loopback pipe.
type fakeSim struct {
	t    *testing.T
	conn *loopback.Conn
	seq  uint64
}

func (s *fakeSim) send(p packs.Pack) {
	s.seq++
	data, err := packs.Marshal(p, s.seq)
	require.NoError(s.t, err)
	require.NoError(s.t, s.conn.Send(context.Background(), data))
}

func (s *fakeSim) raw(data string) {
	require.NoError(s.t, s.conn.Send(context.Background(), []byte(data)))
}

func (s *fakeSim) expect(typ string) streaming.Envelope {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := s.conn.Receive(ctx)
	require.NoError(s.t, err)
	var env streaming.Envelope
	require.NoError(s.t, json.Unmarshal(data, &env))
	require.Equal(s.t, typ, env.Type)
	return env
}

func (s *fakeSim) expectCast() streaming.CastSpellRequest {
	env := s.expect(streaming.TypeCastSpell)
	var req streaming.CastSpellRequest
	require.NoError(s.t, json.Unmarshal(env.Payload, &req))
	return req
}

func snapshot() core.BattleInfo {
	return core.BattleInfo{
		ID:   "b1",
		Seed: 3,
		Units: []core.Unit{
			{ID: 1, Name: "Pikeman", MaxHealth: 10, Count: 50, FirstHPLeft: 10, InitialCount: 50},
			{ID: 2, Name: "Archer", MaxHealth: 10, Count: 40, FirstHPLeft: 10, InitialCount: 40},
		},
	}
}

// jitterConn delays every receive by a random amount.
type jitterConn struct {
	transport.Conn
	mu sync.Mutex
	r  *rand.Rand
}

func (j *jitterConn) Receive(ctx context.Context) ([]byte, error) {
	j.mu.Lock()
	d := time.Duration(j.r.Intn(300)) * time.Microsecond
	j.mu.Unlock()
	time.Sleep(d)
	return j.Conn.Receive(ctx)
}

func startClient(t *testing.T, opts Options) (*Client, *fakeSim) {
	return startClientWith(t, opts, nil)
}

func startClientWith(t *testing.T, opts Options, wrap func(transport.Conn) transport.Conn) (*Client, *fakeSim) {
	t.Helper()
	simEnd, clientEnd := loopback.Pipe()
	var conn transport.Conn = clientEnd
	if wrap != nil {
		conn = wrap(conn)
	}
	c, err := New(conn, opts)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())

	require.NoError(t, c.Start(context.Background()))
	sim := &fakeSim{t: t, conn: simEnd}
	sim.expect(streaming.TypeHello)
	t.Cleanup(func() { c.Close() })
	return c, sim
}

func startReady(t *testing.T, opts Options) (*Client, *fakeSim) {
	t.Helper()
	return startReadyWith(t, opts, nil)
}

func startReadyWith(t *testing.T, opts Options, wrap func(transport.Conn) transport.Conn) (*Client, *fakeSim) {
	t.Helper()
	c, sim := startClientWith(t, opts, wrap)
	sim.send(&packs.BattleStart{Info: snapshot()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))
	return c, sim
}

// damageStream builds a deterministic sequence of packs.
func damageStream(n int) []packs.Pack {
	ref := battle.FromInfo(snapshot())
	out := make([]packs.Pack, 0, n)
	for i := 0; i < n; i++ {
		id := core.UnitID(i%2 + 1)
		u, _ := ref.LookupUnit(id)
		k := u.Damage(int64(i%7 + 1))
		p := &packs.StacksInjured{Stacks: []packs.StackAttacked{{Target: id, Attacker: core.NoUnit, Killed: k, State: u.State()}}}
		p.Apply(ref)
		out = append(out, p)
	}
	return out
}

func waitApplied(t *testing.T, c *Client, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Applied() >= n }, 2*time.Second, time.Millisecond)
}

func TestClient_OrderingUnderJitter(t *testing.T) {
	stream := damageStream(200)

	expected := battle.FromInfo(snapshot())
	for _, p := range stream {
		p.Apply(expected)
	}

	for _, seed := range []int64{1, 2, 3} {
		c, sim := startReadyWith(t, Options{Name: "jitter"}, func(conn transport.Conn) transport.Conn {
			return &jitterConn{Conn: conn, r: rand.New(rand.NewSource(seed * 31))}
		})
		r := rand.New(rand.NewSource(seed))
		for _, p := range stream {
			if d := r.Intn(3); d > 0 {
				time.Sleep(time.Duration(d) * 100 * time.Microsecond)
			}
			sim.send(p)
		}
		waitApplied(t, c, uint64(len(stream)+1))
		assert.Equal(t, expected.Units(), c.Mirror().Units(), "seed %d", seed)
	}
}

func TestClient_ObserversSeeEveryPackInOrder(t *testing.T) {
	c, sim := startClient(t, Options{})
	var (
		mu   sync.Mutex
		seqs []uint64
	)
	c.Subscribe(ObserverFunc(func(seq uint64, p packs.Pack) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, seq)
	}))

	sim.send(&packs.BattleStart{Info: snapshot()})
	for _, p := range damageStream(10) {
		sim.send(p)
	}
	waitApplied(t, c, 11)

	mu.Lock()
	defer mu.Unlock()
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
}

func TestClient_BlockingHandshake(t *testing.T) {
	c, sim := startReady(t, Options{})

	result := make(chan error, 1)
	go func() {
		result <- c.Request(context.Background(), streaming.CastSpellRequest{Spell: "magicArrow", Caster: 1, Target: core.Units(2)})
	}()

	req := sim.expectCast()
	assert.Equal(t, "magicArrow", req.Spell)

	// unrelated traffic, including another requester's completion
	for _, p := range damageStream(5) {
		sim.send(p)
	}
	sim.send(&packs.PackageApplied{RequestID: req.RequestID + 100, Result: true})
	waitApplied(t, c, 7)

	select {
	case err := <-result:
		t.Fatalf("released before its completing pack: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	before := c.Applied()
	sim.send(&packs.StacksInjured{Stacks: []packs.StackAttacked{{Target: 2, State: core.UnitState{ID: 2, Count: 1, FirstHPLeft: 1}}}})
	sim.send(&packs.PackageApplied{RequestID: req.RequestID, Result: true})

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request not released")
	}
	assert.GreaterOrEqual(t, c.Applied(), before+2)
	u, _ := c.Mirror().LookupUnit(2)
	assert.Equal(t, int32(1), u.Count, "outcome applied before release")
}

func TestClient_DisconnectReleasesWaiter(t *testing.T) {
	c, sim := startReady(t, Options{})

	result := make(chan error, 1)
	go func() {
		result <- c.Request(context.Background(), streaming.CastSpellRequest{Spell: "s"})
	}()
	sim.expectCast()
	require.NoError(t, sim.conn.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter left hanging after disconnect")
	}
	<-c.Done()
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), ErrDisconnected)
}

func TestClient_MalformedPackIsFatal(t *testing.T) {
	c, sim := startReady(t, Options{})

	result := make(chan error, 1)
	go func() {
		result <- c.Request(context.Background(), streaming.CastSpellRequest{Spell: "s"})
	}()
	sim.expectCast()
	sim.raw(`{"type":"stacks_injured","seq":99,"payload":"garbage"}`)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.ErrorIs(t, err, packs.ErrMalformedPack)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter left hanging after bad pack")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_OutOfOrderPackIsFatal(t *testing.T) {
	c, sim := startReady(t, Options{})
	data, err := packs.Marshal(&packs.PackageApplied{RequestID: 1, Result: true}, 1)
	require.NoError(t, err)
	require.NoError(t, sim.conn.Send(context.Background(), data))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client kept streaming after a replayed sequence number")
	}
	assert.ErrorIs(t, c.Err(), ErrDisconnected)
}

func TestClient_CloseReleasesWaiterAndStopsApplying(t *testing.T) {
	c, sim := startReady(t, Options{})

	result := make(chan error, 1)
	go func() {
		result <- c.Request(context.Background(), streaming.CastSpellRequest{Spell: "s"})
	}()
	sim.expectCast()

	require.NoError(t, c.Close())
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter left hanging after close")
	}

	applied := c.Applied()
	_ = sim.conn.Send(context.Background(), []byte(`{}`))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, applied, c.Applied())
	assert.NoError(t, c.Err())
	assert.ErrorIs(t, c.Request(context.Background(), streaming.CastSpellRequest{}), ErrClosed)
}

func TestClient_ObserverCanClose(t *testing.T) {
	c, sim := startReady(t, Options{})
	closed := make(chan error, 1)
	c.Subscribe(ObserverFunc(func(seq uint64, p packs.Pack) {
		if seq == 3 {
			closed <- c.Close()
		}
	}))

	for _, p := range damageStream(5) {
		sim.seq++
		data, err := packs.Marshal(p, sim.seq)
		require.NoError(t, err)
		// the client may already be gone for the last packs
		_ = sim.conn.Send(context.Background(), data)
	}

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close from an observer did not return")
	}
	assert.Equal(t, StateClosed, c.State())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, uint64(3), c.Applied())
}

func TestClient_OneRequestAtATime(t *testing.T) {
	c, sim := startReady(t, Options{})

	result := make(chan error, 1)
	go func() {
		result <- c.Request(context.Background(), streaming.CastSpellRequest{Spell: "first"})
	}()
	req := sim.expectCast()

	err := c.Request(context.Background(), streaming.CastSpellRequest{Spell: "second"})
	assert.ErrorIs(t, err, ErrRequestInFlight)

	sim.send(&packs.PackageApplied{RequestID: req.RequestID, Result: true})
	require.NoError(t, <-result)
}

func TestClient_Rejected(t *testing.T) {
	c, sim := startReady(t, Options{})

	result := make(chan error, 1)
	go func() {
		result <- c.Request(context.Background(), streaming.CastSpellRequest{Spell: "unknown"})
	}()
	req := sim.expectCast()
	sim.send(&packs.PackageApplied{RequestID: req.RequestID, Result: false, Reason: "unknown spell"})

	err := <-result
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorContains(t, err, "unknown spell")
	assert.Equal(t, StateStreaming, c.State())
}

func TestClient_RequestTimeout(t *testing.T) {
	c, sim := startReady(t, Options{RequestTimeout: 20 * time.Millisecond})

	err := c.Request(context.Background(), streaming.CastSpellRequest{Spell: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	req := sim.expectCast()

	// a late outcome is applied but completes nothing
	sim.send(&packs.PackageApplied{RequestID: req.RequestID, Result: true})
	waitApplied(t, c, 2)

	// the slot is free again
	// an explicit deadline overrides the default timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := make(chan error, 1)
	go func() {
		result <- c.Request(ctx, streaming.CastSpellRequest{Spell: "next"})
	}()
	next := sim.expectCast()
	assert.Equal(t, "next", next.Spell)
	sim.send(&packs.PackageApplied{RequestID: next.RequestID, Result: true})
	assert.NoError(t, <-result)
}

func TestClient_RequestBeforeStart(t *testing.T) {
	_, clientEnd := loopback.Pipe()
	c, err := New(clientEnd, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.Request(context.Background(), streaming.CastSpellRequest{}), ErrNotStreaming)

	d, err := New(nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, d.State())
	assert.Error(t, d.Start(context.Background()))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(42).String())
}
