package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"cubesync/protocol"
	"cubesync/transport"
)

const testBroadcast = 100 * time.Millisecond

type rig struct {
	t       *testing.T
	net     *transport.MemoryNetwork
	driver  *transport.MemoryServer
	session *Session
	now     time.Time
	logs    *observer.ObservedLogs
}

func newRig(t *testing.T) *rig {
	t.Helper()
	return newRigWithCore(t, zaptest.NewLogger(t).Core())
}

func newRigWithCore(t *testing.T, extra zapcore.Core) *rig {
	n := transport.NewMemoryNetwork()
	driver, err := n.Listen()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(zapcore.NewTee(core, extra)).Sugar()

	s := NewSession(driver, Options{TickRate: 60, BroadcastInterval: testBroadcast}, log)
	return &rig{t: t, net: n, driver: driver, session: s, now: time.Unix(1000, 0), logs: logs}
}

// tick 时钟前进 d 并执行一次 Tick
func (r *rig) tick(d time.Duration) {
	r.now = r.now.Add(d)
	r.session.Tick(r.now)
}

// connect 拨号并执行一次 Tick，让服务端接入链路
func (r *rig) connect() *transport.MemoryClient {
	r.t.Helper()
	cl := r.net.Dial()
	r.tick(0)
	cl.Update()
	require.Equal(r.t, transport.EventConnect, cl.PopEvent().Type)
	return cl
}

func (r *rig) send(cl *transport.MemoryClient, m protocol.Message) {
	r.t.Helper()
	b, err := protocol.Encode(m)
	require.NoError(r.t, err)
	require.NoError(r.t, cl.Send(b))
}

// join 连接客户端并完成握手，返回其 ID
func (r *rig) join(pos protocol.Vec3) (*transport.MemoryClient, protocol.ClientID) {
	r.t.Helper()
	cl := r.connect()
	r.send(cl, protocol.ClientHandshake{Player: protocol.PlayerState{Position: pos, Color: protocol.White}})
	r.tick(0)
	msgs := received(r.t, cl)
	require.NotEmpty(r.t, msgs)
	hs, ok := msgs[0].(protocol.ServerHandshake)
	require.True(r.t, ok, "expected SERVER_HANDSHAKE, got %T", msgs[0])
	return cl, hs.ClientID
}

// received 解码 cl 队列中的所有数据事件
func received(t *testing.T, cl *transport.MemoryClient) []protocol.Message {
	t.Helper()
	cl.Update()
	var out []protocol.Message
	for {
		ev := cl.PopEvent()
		switch ev.Type {
		case transport.EventEmpty:
			return out
		case transport.EventData:
			m, err := protocol.Decode(ev.Data)
			require.NoError(t, err)
			out = append(out, m)
		case transport.EventDisconnect:
			out = append(out, nil)
		}
	}
}

func TestSession_SingleClientHandshake(t *testing.T) {
	r := newRig(t)
	cl := r.connect()
	r.send(cl, protocol.ClientHandshake{Player: protocol.PlayerState{
		Position: protocol.Vec3{X: 1, Y: 0, Z: 1},
		Color:    protocol.White,
	}})
	r.tick(0)

	msgs := received(t, cl)
	require.Len(t, msgs, 1, "no NEW_PLAYER goes back to the joining client")
	hs := msgs[0].(protocol.ServerHandshake)
	assert.Equal(t, protocol.ClientID(1), hs.ClientID)
	require.Len(t, hs.Players, 1)
	assert.Equal(t, protocol.ClientID(1), hs.Players[0].ClientID)
	assert.Equal(t, protocol.Vec3{X: 1, Z: 1}, hs.Players[0].Position)
	assert.False(t, hs.Players[0].Unassigned)
}

func TestSession_SecondClientAnnounced(t *testing.T) {
	r := newRig(t)
	a, idA := r.join(protocol.Vec3{X: 1})

	b := r.connect()
	r.send(b, protocol.ClientHandshake{Player: protocol.PlayerState{Position: protocol.Vec3{X: 2}}})
	r.tick(0)

	msgsB := received(t, b)
	require.Len(t, msgsB, 1)
	hs := msgsB[0].(protocol.ServerHandshake)
	require.Len(t, hs.Players, 2)
	assert.Equal(t, idA, hs.Players[0].ClientID)
	assert.Equal(t, hs.ClientID, hs.Players[1].ClientID)
	assert.NotEqual(t, idA, hs.ClientID)

	msgsA := received(t, a)
	require.Len(t, msgsA, 1)
	np := msgsA[0].(protocol.NewPlayer)
	assert.Equal(t, hs.ClientID, np.Player.ClientID)
	assert.Equal(t, protocol.Vec3{X: 2}, np.Player.Position)
}

func TestSession_DisconnectBroadcast(t *testing.T) {
	r := newRig(t)
	a, idA := r.join(protocol.Vec3{})
	b, _ := r.join(protocol.Vec3{})
	received(t, a)

	a.Disconnect()
	r.tick(0)

	msgs := received(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.PlayerDisconnect{ClientID: idA}, msgs[0])
	assert.Equal(t, 1, r.session.Registry().Len())
	assert.Equal(t, 1, r.session.Connections())
	_, ok := r.session.Registry().ConnFor(idA)
	assert.False(t, ok)
	assert.EqualValues(t, 1, r.session.Metrics().Disconnects)
}

func TestSession_DisconnectBeforeHandshakeIsQuiet(t *testing.T) {
	r := newRig(t)
	a, _ := r.join(protocol.Vec3{})
	b := r.connect()

	b.Disconnect()
	r.tick(0)

	assert.Empty(t, received(t, a))
	assert.Equal(t, 1, r.session.Registry().Len())
	assert.Equal(t, 1, r.session.Connections())
}

func TestSession_NoBroadcastWithoutConnections(t *testing.T) {
	r := newRig(t)
	r.tick(0)
	for range 5 {
		r.tick(testBroadcast)
	}
	assert.Zero(t, r.session.Metrics().Broadcasts)
	assert.Zero(t, r.session.Metrics().MessagesOut)
}

func TestSession_PeriodicServerUpdate(t *testing.T) {
	r := newRig(t)
	a, idA := r.join(protocol.Vec3{X: 1})
	b, idB := r.join(protocol.Vec3{X: 2})
	received(t, a)

	r.send(a, protocol.PlayerUpdate{Player: protocol.PlayerState{
		ClientID: idA,
		Position: protocol.Vec3{X: 9},
	}})
	r.tick(testBroadcast)

	for _, cl := range []*transport.MemoryClient{a, b} {
		msgs := received(t, cl)
		require.Len(t, msgs, 1)
		up := msgs[0].(protocol.ServerUpdate)
		require.Len(t, up.Players, 2)
		assert.Equal(t, idA, up.Players[0].ClientID)
		assert.Equal(t, protocol.Vec3{X: 9}, up.Players[0].Position)
		assert.Equal(t, idB, up.Players[1].ClientID)
	}
	assert.EqualValues(t, 1, r.session.Metrics().Broadcasts)

	r.tick(testBroadcast / 2)
	assert.Empty(t, received(t, a), "not due yet")
}

func TestSession_PingAnswered(t *testing.T) {
	r := newRig(t)
	cl := r.connect()
	r.send(cl, protocol.Ping{})
	r.tick(0)
	assert.Equal(t, []protocol.Message{protocol.Pong{}}, received(t, cl))
}

func TestSession_PingWithoutSessionSuppressed(t *testing.T) {
	r := newRig(t)
	cl := r.connect()
	conns := r.session.table.Handles()
	require.Len(t, conns, 1)
	_, err := r.session.Registry().OnDisconnect(conns[0])
	require.NoError(t, err)

	r.send(cl, protocol.Ping{})
	r.tick(0)

	assert.Empty(t, received(t, cl))
	assert.True(t, r.driver.Alive(conns[0]), "connection stays open")
	assert.EqualValues(t, 1, r.session.Metrics().ConsistencyErrors)
	assert.Equal(t, 1, r.logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("ping dropped").Len())
}

func TestSession_MalformedMessageDropped(t *testing.T) {
	r := newRig(t)
	cl, _ := r.join(protocol.Vec3{})
	require.NoError(t, cl.Send([]byte(`{"cmd":"BOGUS"}`)))
	require.NoError(t, cl.Send([]byte(`not json`)))
	r.send(cl, protocol.Ping{})
	r.tick(0)

	assert.Equal(t, []protocol.Message{protocol.Pong{}}, received(t, cl))
	assert.EqualValues(t, 2, r.session.Metrics().DecodeErrors)
	assert.Equal(t, 1, r.session.Connections())
}

func TestSession_RepeatHandshake(t *testing.T) {
	r := newRig(t)
	a, idA := r.join(protocol.Vec3{})
	b, _ := r.join(protocol.Vec3{})
	received(t, a)

	r.send(a, protocol.ClientHandshake{Player: protocol.PlayerState{Position: protocol.Vec3{X: 5}}})
	r.tick(0)

	msgs := received(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, idA, msgs[0].(protocol.ServerHandshake).ClientID)
	assert.Empty(t, received(t, b), "no second NEW_PLAYER")
}

func TestSession_StaleConnectionEvicted(t *testing.T) {
	r := newRig(t)
	a, idA := r.join(protocol.Vec3{})
	b, _ := r.join(protocol.Vec3{})
	received(t, a)

	connA, ok := r.session.Registry().ConnFor(idA)
	require.True(t, ok)
	r.driver.Disconnect(connA)
	r.tick(0)

	assert.Equal(t, []protocol.Message{protocol.PlayerDisconnect{ClientID: idA}}, received(t, b))
	assert.Equal(t, 1, r.session.Connections())
	assert.Equal(t, 1, r.session.Registry().Len())
}

func TestSession_TableAndRegistryAgree(t *testing.T) {
	r := newRig(t)
	var clients []*transport.MemoryClient
	for i := range 6 {
		cl, _ := r.join(protocol.Vec3{X: float32(i)})
		clients = append(clients, cl)
	}
	clients[0].Disconnect()
	clients[3].Disconnect()
	clients[5].Disconnect()
	r.tick(0)

	assert.Equal(t, 3, r.session.Connections())
	assert.Equal(t, r.session.Connections(), r.session.Registry().Len())
}

func TestSession_CloseDisconnectsClients(t *testing.T) {
	r := newRig(t)
	cl, _ := r.join(protocol.Vec3{})
	require.NoError(t, r.session.Close())

	assert.Equal(t, []protocol.Message{nil}, received(t, cl))
	assert.Equal(t, 0, r.session.Registry().Len())

	_, err := r.net.Listen()
	assert.NoError(t, err, "network free after close")
}

func TestSession_BroadcastIntervalChange(t *testing.T) {
	r := newRig(t)
	a, _ := r.join(protocol.Vec3{})
	r.session.SetBroadcastInterval(time.Second)
	assert.Equal(t, time.Second, r.session.BroadcastInterval())

	// 已排定的执行照常触发，之后使用新间隔
	r.tick(testBroadcast)
	require.Len(t, received(t, a), 1)
	r.tick(testBroadcast)
	assert.Empty(t, received(t, a))
	r.tick(time.Second)
	assert.Len(t, received(t, a), 1)
}

// 无论加入、握手、离开与踢出如何组合，
// Tick 之间连接表与注册表总是持有相同的连接
func TestSession_CardinalityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := newRigWithCore(t, zapcore.NewNopCore())
		var clients []*transport.MemoryClient

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for range steps {
			switch op := rapid.SampledFrom([]string{"dial", "handshake", "leave", "kick", "tick"}).Draw(rt, "op"); op {
			case "dial":
				clients = append(clients, r.net.Dial())
			case "handshake", "leave":
				if len(clients) == 0 {
					continue
				}
				i := rapid.IntRange(0, len(clients)-1).Draw(rt, fmt.Sprintf("%s-client", op))
				if op == "leave" {
					clients[i].Disconnect()
					clients = append(clients[:i], clients[i+1:]...)
					continue
				}
				b, _ := protocol.Encode(protocol.ClientHandshake{})
				_ = clients[i].Send(b)
			case "kick":
				handles := r.session.table.Handles()
				if len(handles) == 0 {
					continue
				}
				r.driver.Disconnect(rapid.SampledFrom(handles).Draw(rt, "kicked"))
			case "tick":
				r.tick(10 * time.Millisecond)
				require.Equal(rt, r.session.Connections(), r.session.Registry().Len())
			}
		}
		r.tick(10 * time.Millisecond)

		require.Equal(rt, r.session.Connections(), r.session.Registry().Len())
		require.LessOrEqual(rt, r.session.Registry().Assigned(), r.session.Registry().Len())
		require.Zero(rt, r.session.Metrics().ConsistencyErrors)
		for _, st := range r.session.Registry().Snapshot() {
			conn, ok := r.session.Registry().ConnFor(st.ClientID)
			require.True(rt, ok)
			require.True(rt, r.session.table.Contains(conn))
		}
	})
}
