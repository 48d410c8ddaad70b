// Package transport 是会话循环所依赖的面向连接、按消息分帧的传输边界。
// 驱动在自己的协程上做 I/O 并将事件入队；
// 所属 Tick 调用 Update 让已入队事件可见，随后非阻塞地轮询。
package transport

import (
	"errors"
	"fmt"
)

// ConnID 驱动内部的连接句柄。同一个值之后可能被复用于另一条物理链路，
// 因此它不是玩家标识
type ConnID uint64

// EventType 区分 PopEvent 返回的事件类型
type EventType uint8

const (
	EventEmpty EventType = iota
	EventConnect
	EventData
	EventDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventEmpty:
		return "empty"
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Event 一个入队的传输事件，仅 EventData 携带 Data
type Event struct {
	Type EventType
	Data []byte
}

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrNotConnected  = errors.New("not connected")
	ErrSendQueueFull = errors.New("send queue full")
	ErrAddrInUse     = errors.New("address already in use")
)

// ServerDriver 监听端
type ServerDriver interface {
	// Update 让上次调用以来收到的事件对 Accept 与 PopEvent 可见
	Update()
	// Accept 返回下一个待接入连接，没有时返回 false
	Accept() (ConnID, bool)
	// PopEvent 返回 id 的下一个事件，没有时返回 EventEmpty
	PopEvent(id ConnID) Event
	Send(id ConnID, payload []byte) error
	// Alive 判断 id 是否仍是有效句柄
	Alive(id ConnID) bool
	// Disconnect 本地关闭 id，不会为其产生 EventDisconnect
	Disconnect(id ConnID)
	Close() error
}

// ClientDriver 单连接的拨号端
type ClientDriver interface {
	Update()
	PopEvent() Event
	Send(payload []byte) error
	Disconnect()
	Close() error
}

// eventQueue 保存 I/O 协程写入的事件（inbox）与已交给 Tick 的事件（ready），
// 加锁由持有者负责
type eventQueue struct {
	inbox []Event
	ready []Event
}

func (q *eventQueue) push(ev Event) { q.inbox = append(q.inbox, ev) }

func (q *eventQueue) flip() {
	if len(q.inbox) == 0 {
		return
	}
	q.ready = append(q.ready, q.inbox...)
	q.inbox = nil
}

func (q *eventQueue) pop() Event {
	if len(q.ready) == 0 {
		return Event{Type: EventEmpty}
	}
	ev := q.ready[0]
	q.ready[0] = Event{}
	q.ready = q.ready[1:]
	return ev
}
