package server

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cubesync/periodic"
	"cubesync/protocol"
	"cubesync/transport"
)

// Options 服务端会话循环的参数
type Options struct {
	// TickRate Run 每秒执行的网络 Tick 数
	TickRate int
	// BroadcastInterval SERVER_UPDATE 广播周期
	BroadcastInterval time.Duration
	// Verbose 以 info 级别记录每条收发消息
	Verbose bool
}

func DefaultOptions() Options {
	return Options{
		TickRate:          60,
		BroadcastInterval: 100 * time.Millisecond,
	}
}

// Session 权威服务端：持有连接表与会话注册表，
// 两者的所有修改都发生在 Tick 内
type Session struct {
	driver   transport.ServerDriver
	opts     Options
	log      *zap.SugaredLogger
	table    *ConnTable
	registry *Registry
	metrics  *Metrics

	broadcastTask *periodic.Task
	verbose       atomic.Bool
}

func NewSession(driver transport.ServerDriver, opts Options, log *zap.SugaredLogger) *Session {
	if opts.TickRate <= 0 {
		opts.TickRate = DefaultOptions().TickRate
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = DefaultOptions().BroadcastInterval
	}
	s := &Session{
		driver:   driver,
		opts:     opts,
		log:      log,
		table:    NewConnTable(16),
		registry: NewRegistry(NewAllocator()),
		metrics:  &Metrics{},
	}
	s.broadcastTask = periodic.New("broadcast", opts.BroadcastInterval, s.broadcastState)
	s.verbose.Store(opts.Verbose)
	return s
}

// Tick 执行一次网络 Tick：驱动更新、清理失效连接、接入、读取，
// 最后在到期时执行广播任务
func (s *Session) Tick(now time.Time) {
	start := time.Now()
	if !s.broadcastTask.Active() {
		s.broadcastTask.Start(now.Add(s.broadcastTask.Interval()))
	}

	s.driver.Update()
	s.cleanUpConnections()
	s.acceptNewConnections()
	s.readIncomingMessages()
	s.broadcastTask.Poll(now)

	s.metrics.AddTick(time.Since(start).Nanoseconds())
}

func (s *Session) cleanUpConnections() {
	for _, conn := range s.table.RemoveStale(s.driver.Alive) {
		s.log.Infow("evicting invalidated connection", "conn", conn)
		s.dropSession(conn)
	}
}

func (s *Session) acceptNewConnections() {
	for {
		conn, ok := s.driver.Accept()
		if !ok {
			return
		}
		if err := s.registry.OnConnect(conn); err != nil {
			s.metrics.IncConsistencyErrors()
			s.log.Errorw("rejecting connection", "conn", conn, "error", err)
			s.driver.Disconnect(conn)
			continue
		}
		s.table.Add(conn)
		s.metrics.IncAccepted()
		s.log.Infow("accepted connection", "conn", conn, "connections", s.table.Len())
	}
}

// readIncomingMessages 遍历入口处拷贝的句柄列表，
// 遍历中发生交换删除也不会漏掉连接
func (s *Session) readIncomingMessages() {
	for _, conn := range s.table.Handles() {
		s.drain(conn)
	}
}

func (s *Session) drain(conn transport.ConnID) {
	for s.table.Contains(conn) {
		ev := s.driver.PopEvent(conn)
		switch ev.Type {
		case transport.EventEmpty:
			return
		case transport.EventData:
			s.onData(conn, ev.Data)
		case transport.EventDisconnect:
			s.table.Remove(conn)
			s.dropSession(conn)
		}
	}
}

// dropSession 移除 conn 的会话并通知其他人该玩家离开
func (s *Session) dropSession(conn transport.ConnID) {
	id, err := s.registry.OnDisconnect(conn)
	if err != nil {
		// 此时其他客户端会保留过期的名单条目
		s.metrics.IncConsistencyErrors()
		s.log.Errorw("disconnect without session, peers not notified", "conn", conn, "error", err)
		return
	}
	s.metrics.IncDisconnects()
	if id == 0 {
		s.log.Infow("connection closed before handshake", "conn", conn)
		return
	}
	s.log.Infow("player left", "conn", conn, "client_id", id, "connections", s.table.Len())
	s.broadcast(protocol.PlayerDisconnect{ClientID: id})
}

func (s *Session) onData(conn transport.ConnID, data []byte) {
	s.metrics.IncMessagesIn()
	msg, err := protocol.Decode(data)
	if err != nil {
		s.metrics.IncDecodeErrors()
		s.log.Warnw("dropping message", "conn", conn, "error", err)
		return
	}
	if s.verbose.Load() {
		s.log.Infow("message received", "conn", conn, "cmd", msg.Command())
	}

	switch m := msg.(type) {
	case protocol.Ping:
		s.onPing(conn)
	case protocol.ClientHandshake:
		s.onClientHandshake(conn, m)
	case protocol.PlayerUpdate:
		s.onPlayerUpdate(conn, m)
	case protocol.Handshake:
		s.log.Infow("legacy handshake received", "conn", conn)
	default:
		s.metrics.IncDecodeErrors()
		s.log.Warnw("unexpected command from client", "conn", conn, "cmd", msg.Command())
	}
}

func (s *Session) onPing(conn transport.ConnID) {
	if !s.registry.Has(conn) {
		s.consistencyError("ping", conn, ErrUnknownConnection)
		return
	}
	s.send(conn, protocol.Pong{})
}

func (s *Session) onClientHandshake(conn transport.ConnID, m protocol.ClientHandshake) {
	id, repeat, err := s.registry.OnClientHandshake(conn, m.Player)
	if err != nil {
		s.consistencyError("client handshake", conn, err)
		return
	}
	s.send(conn, protocol.ServerHandshake{ClientID: id, Players: s.registry.Snapshot()})
	if repeat {
		s.log.Infow("repeated handshake answered", "conn", conn, "client_id", id)
		return
	}

	state, _ := s.registry.Lookup(conn)
	s.log.Infow("player joined", "conn", conn, "client_id", id, "position", state.Position.String())
	s.broadcast(protocol.NewPlayer{Player: state}, conn)
}

func (s *Session) onPlayerUpdate(conn transport.ConnID, m protocol.PlayerUpdate) {
	if err := s.registry.OnPlayerUpdate(conn, m.Player); err != nil {
		s.consistencyError("player update", conn, err)
	}
}

// broadcastState 周期性 SERVER_UPDATE 的任务体
func (s *Session) broadcastState(time.Time) {
	if s.table.Len() == 0 || s.registry.Len() == 0 {
		return
	}
	s.metrics.IncBroadcasts()
	s.broadcast(protocol.ServerUpdate{Players: s.registry.Snapshot()})
}

func (s *Session) consistencyError(what string, conn transport.ConnID, err error) {
	s.metrics.IncConsistencyErrors()
	s.log.Errorw(what+" dropped", "conn", conn, "error", err)
}

func (s *Session) send(conn transport.ConnID, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		s.log.Errorw("encoding message", "cmd", m.Command(), "error", err)
		return
	}
	s.write(conn, m.Command(), b)
}

// broadcast 向连接表中除 except 外的所有连接发送 m
func (s *Session) broadcast(m protocol.Message, except ...transport.ConnID) {
	b, err := protocol.Encode(m)
	if err != nil {
		s.log.Errorw("encoding message", "cmd", m.Command(), "error", err)
		return
	}
	for _, conn := range s.table.Handles() {
		if !contains(except, conn) {
			s.write(conn, m.Command(), b)
		}
	}
}

func (s *Session) write(conn transport.ConnID, cmd protocol.Command, b []byte) {
	if err := s.driver.Send(conn, b); err != nil {
		s.metrics.IncSendErrors()
		if errors.Is(err, transport.ErrSendQueueFull) {
			s.log.Debugw("send queue full, message dropped", "conn", conn, "cmd", cmd)
		} else {
			s.log.Warnw("send failed", "conn", conn, "cmd", cmd, "error", err)
		}
		return
	}
	s.metrics.IncMessagesOut()
	if s.verbose.Load() {
		s.log.Infow("message sent", "conn", conn, "cmd", cmd)
	}
}

// Close 先移除所有会话，再关闭驱动
func (s *Session) Close() error {
	s.broadcastTask.Stop()
	for _, conn := range s.table.Handles() {
		s.driver.Disconnect(conn)
		s.table.Remove(conn)
	}
	s.registry.Clear()
	return s.driver.Close()
}

func (s *Session) Registry() *Registry { return s.registry }
func (s *Session) Metrics() *Metrics   { return s.metrics }

// Connections 只能在 Tick 协程调用
func (s *Session) Connections() int { return s.table.Len() }

func (s *Session) BroadcastInterval() time.Duration { return s.broadcastTask.Interval() }

// SetBroadcastInterval 可在任意协程调用
func (s *Session) SetBroadcastInterval(d time.Duration) { s.broadcastTask.SetInterval(d) }

func (s *Session) Verbose() bool     { return s.verbose.Load() }
func (s *Session) SetVerbose(v bool) { s.verbose.Store(v) }

func contains(ids []transport.ConnID, id transport.ConnID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
