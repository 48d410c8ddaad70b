// Package client 实现会话的客户端：持有一条到服务端的连接，
// 上报本地角色的位姿，并在名单中镜像其他所有玩家。
package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cubesync/periodic"
	"cubesync/protocol"
	"cubesync/transport"
)

// ErrNotAssigned 服务端分配 ID 之前上报到期时记录
var ErrNotAssigned = errors.New("client id not assigned")

// Stepper 自主移动的角色实现该接口，
// 会话每个 Tick 在轮询任务前调用一次 Step
type Stepper interface {
	Step()
}

type Options struct {
	TickRate       int
	PingInterval   time.Duration
	UploadInterval time.Duration
	Color          protocol.Color
	Verbose        bool
}

func DefaultOptions() Options {
	return Options{
		TickRate:       60,
		PingInterval:   20 * time.Second,
		UploadInterval: 100 * time.Millisecond,
		Color:          protocol.White,
	}
}

// Session 到单个服务端的客户端连接。所有状态归调用 Tick 的协程所有，
// 只有 ClientID 与 Connected 可在其他协程读取
type Session struct {
	driver  transport.ClientDriver
	actor   LocalActor
	remotes RemoteHandler
	opts    Options
	log     *zap.SugaredLogger

	roster    *Roster
	id        atomic.Uint32
	connected atomic.Bool

	pingTask   *periodic.Task
	uploadTask *periodic.Task
	pongs      int
}

func NewSession(driver transport.ClientDriver, actor LocalActor, remotes RemoteHandler, opts Options, log *zap.SugaredLogger) *Session {
	def := DefaultOptions()
	if opts.TickRate <= 0 {
		opts.TickRate = def.TickRate
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.UploadInterval <= 0 {
		opts.UploadInterval = def.UploadInterval
	}
	s := &Session{
		driver:  driver,
		actor:   actor,
		remotes: remotes,
		opts:    opts,
		log:     log,
		roster:  NewRoster(),
	}
	s.pingTask = periodic.New("ping", opts.PingInterval, s.sendPing)
	s.uploadTask = periodic.New("upload", opts.UploadInterval, s.uploadState)
	return s
}

// Tick 取完驱动事件，再推进角色并执行到期任务
func (s *Session) Tick(now time.Time) {
	s.driver.Update()
	for {
		ev := s.driver.PopEvent()
		if ev.Type == transport.EventEmpty {
			break
		}
		switch ev.Type {
		case transport.EventConnect:
			s.onConnect(now)
		case transport.EventData:
			s.onData(now, ev.Data)
		case transport.EventDisconnect:
			s.onDisconnect()
		}
	}

	if st, ok := s.actor.(Stepper); ok && s.connected.Load() {
		st.Step()
	}
	s.pingTask.Poll(now)
	s.uploadTask.Poll(now)
}

// Run 按配置频率驱动 Tick，直到 ctx 取消
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.opts.TickRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Close()
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

func (s *Session) onConnect(now time.Time) {
	s.connected.Store(true)
	s.log.Info("connected to server")
	s.pingTask.Start(now)

	pos, rot := s.actor.LocalTransform()
	s.send(protocol.ClientHandshake{Player: protocol.PlayerState{
		Position:    pos,
		Orientation: rot,
		Color:       s.opts.Color,
	}})
}

func (s *Session) onData(now time.Time, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.log.Warnw("dropping message", "error", err)
		return
	}
	if s.opts.Verbose {
		s.log.Infow("message received", "cmd", msg.Command())
	}

	switch m := msg.(type) {
	case protocol.ServerHandshake:
		s.onServerHandshake(now, m)
	case protocol.ServerUpdate:
		for _, st := range m.Players {
			if r, ok := s.roster.Apply(st); ok {
				s.remotes.OnRemoteUpdate(st.ClientID, r.State.Position, r.State.Orientation)
			}
		}
	case protocol.NewPlayer:
		s.onNewPlayer(m.Player)
	case protocol.PlayerDisconnect:
		s.onPlayerDisconnect(m.ClientID)
	case protocol.Pong:
		s.pongs++
		if s.opts.Verbose {
			s.log.Infow("pong", "count", s.pongs)
		}
	case protocol.Handshake:
		s.log.Infow("handshake from server", "client_id", m.Player.ClientID)
	default:
		s.log.Warnw("unexpected command from server", "cmd", msg.Command())
	}
}

func (s *Session) onServerHandshake(now time.Time, m protocol.ServerHandshake) {
	s.id.Store(uint32(m.ClientID))
	s.actor.SetLocalClientID(m.ClientID)
	s.log.Infow("handshake complete", "client_id", m.ClientID, "players", len(m.Players))

	for _, st := range m.Players {
		if st.ClientID == 0 {
			s.log.Warnw("ignoring roster entry without client id")
			continue
		}
		if st.ClientID == m.ClientID {
			s.roster.Add(st, true)
			continue
		}
		s.onNewPlayer(st)
	}
	s.uploadTask.Start(now)
}

func (s *Session) onNewPlayer(st protocol.PlayerState) {
	if st.ClientID == 0 || st.ClientID == s.ClientID() {
		return
	}
	if s.roster.Add(st, false) {
		s.remotes.OnRemoteSpawn(st.ClientID, st.Position, st.Orientation)
	}
}

func (s *Session) onPlayerDisconnect(id protocol.ClientID) {
	r, ok := s.roster.Remove(id)
	if !ok {
		s.log.Warnw("disconnect for unknown player", "client_id", id)
		return
	}
	if !r.Local {
		s.remotes.OnRemoteDespawn(id)
	}
}

func (s *Session) onDisconnect() {
	if s.connected.Load() {
		s.log.Info("disconnected from server")
	} else {
		s.log.Warn("connection to server failed")
	}
	s.teardown()
}

// teardown 停止两个任务，清除自身 ID 并移除所有远端玩家
func (s *Session) teardown() {
	s.connected.Store(false)
	s.pingTask.Stop()
	s.uploadTask.Stop()
	s.id.Store(0)
	s.actor.SetLocalClientID(0)
	for _, r := range s.roster.Clear() {
		if !r.Local {
			s.remotes.OnRemoteDespawn(r.State.ClientID)
		}
	}
}

func (s *Session) sendPing(time.Time) {
	s.send(protocol.Ping{})
}

func (s *Session) uploadState(time.Time) {
	id := s.ClientID()
	if id == 0 || !s.actor.LocalIdentityAssigned() {
		s.log.Errorw("skipping state upload", "error", ErrNotAssigned)
		return
	}
	pos, rot := s.actor.LocalTransform()
	s.send(protocol.PlayerUpdate{Player: protocol.PlayerState{
		ClientID:    id,
		Position:    pos,
		Orientation: rot,
		Color:       s.opts.Color,
	}})
}

func (s *Session) send(m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		s.log.Errorw("encoding message", "cmd", m.Command(), "error", err)
		return
	}
	if err := s.driver.Send(b); err != nil {
		s.log.Warnw("send failed", "cmd", m.Command(), "error", err)
		return
	}
	if s.opts.Verbose {
		s.log.Infow("message sent", "cmd", m.Command())
	}
}

// Close 本地断开并拆除会话，不等待服务端
func (s *Session) Close() error {
	s.driver.Disconnect()
	if s.connected.Load() || s.roster.Len() > 0 {
		s.teardown()
	}
	return s.driver.Close()
}

func (s *Session) ClientID() protocol.ClientID { return protocol.ClientID(s.id.Load()) }
func (s *Session) Connected() bool             { return s.connected.Load() }

// Roster 只能在 Tick 协程使用
func (s *Session) Roster() *Roster { return s.roster }

// Pongs 收到的 PONG 应答数
func (s *Session) Pongs() int { return s.pongs }
