package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cubesync/protocol"
	"cubesync/transport"
)

var (
	ErrUnknownConnection   = errors.New("no session for connection")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// session 服务端对单个连接的权威记录
type session struct {
	conn        transport.ConnID
	state       protocol.PlayerState
	connectedAt time.Time
}

// Registry 维护连接到玩家会话、已分配客户端 ID 到连接的两张映射。
// 两者分开保存：ConnID 只标识链路，ClientID 标识链路上的玩家。
//
// 写入只发生在会话 Tick 中；所有方法都可并发调用，
// 供管理接口读取
type Registry struct {
	mu       sync.RWMutex
	alloc    *Allocator
	byConn   map[transport.ConnID]*session
	byClient map[protocol.ClientID]transport.ConnID
}

func NewRegistry(alloc *Allocator) *Registry {
	return &Registry{
		alloc:    alloc,
		byConn:   make(map[transport.ConnID]*session),
		byClient: make(map[protocol.ClientID]transport.ConnID),
	}
}

// OnConnect 为新接入的连接插入占位会话
func (r *Registry) OnConnect(conn transport.ConnID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[conn]; ok {
		return fmt.Errorf("conn %d: %w", conn, ErrDuplicateConnection)
	}
	r.byConn[conn] = &session{
		conn:        conn,
		state:       protocol.NewPlayerState(),
		connectedAt: time.Now(),
	}
	return nil
}

// OnClientHandshake 分配客户端 ID 并复制客户端初始状态。
// 已有 ID 的会话保留原 ID，此时 repeat 为 true
func (r *Registry) OnClientHandshake(conn transport.ConnID, st protocol.PlayerState) (id protocol.ClientID, repeat bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok {
		return 0, false, fmt.Errorf("handshake from conn %d: %w", conn, ErrUnknownConnection)
	}
	if s.state.ClientID != 0 {
		return s.state.ClientID, true, nil
	}
	id, err = r.alloc.NextFree(func(id protocol.ClientID) bool {
		_, live := r.byClient[id]
		return live
	})
	if err != nil {
		return 0, false, fmt.Errorf("handshake from conn %d: %w", conn, err)
	}
	s.state = protocol.PlayerState{
		ClientID:    id,
		Position:    st.Position,
		Orientation: st.Orientation,
		Color:       st.Color,
	}
	r.byClient[id] = conn
	return id, false, nil
}

// OnPlayerUpdate 覆盖位置与朝向，颜色与标志不变
func (r *Registry) OnPlayerUpdate(conn transport.ConnID, st protocol.PlayerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok {
		return fmt.Errorf("update from conn %d: %w", conn, ErrUnknownConnection)
	}
	s.state.Position = st.Position
	s.state.Orientation = st.Orientation
	return nil
}

// OnDisconnect 移除会话并返回其持有的客户端 ID，
// 未完成握手时返回 0
func (r *Registry) OnDisconnect(conn transport.ConnID) (protocol.ClientID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok {
		return 0, fmt.Errorf("disconnect of conn %d: %w", conn, ErrUnknownConnection)
	}
	delete(r.byConn, conn)
	if id := s.state.ClientID; id != 0 {
		delete(r.byClient, id)
	}
	return s.state.ClientID, nil
}

// Snapshot 返回所有已完成握手的会话状态，按客户端 ID 排序
func (r *Registry) Snapshot() []protocol.PlayerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.PlayerState, 0, len(r.byClient))
	for _, conn := range r.byClient {
		out = append(out, r.byConn[conn].state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (r *Registry) Lookup(conn transport.ConnID) (protocol.PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[conn]
	if !ok {
		return protocol.PlayerState{}, false
	}
	return s.state, true
}

func (r *Registry) ConnFor(id protocol.ClientID) (transport.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byClient[id]
	return conn, ok
}

func (r *Registry) Has(conn transport.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[conn]
	return ok
}

// Len 会话总数（包含尚未握手的）
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Assigned 持有客户端 ID 的会话数
func (r *Registry) Assigned() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient)
}

// Clear 清空所有会话
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byConn)
	clear(r.byClient)
}
