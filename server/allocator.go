package server

import (
	"errors"

	"cubesync/protocol"
)

// ReservedCeiling 第一个不会发放的计数值，到达后分配器从 1 重新开始
const ReservedCeiling protocol.ClientID = 65530

// MaxClientID 分配器发放的最大 ID
const MaxClientID = ReservedCeiling - 1

var ErrIDsExhausted = errors.New("no free client id")

// Allocator 基于回绕计数器发放客户端 ID，从不返回 0
type Allocator struct {
	next protocol.ClientID
}

func NewAllocator() *Allocator {
	return &Allocator{next: 1}
}

// Next 返回当前计数并前进，不检查 ID 是否占用
func (a *Allocator) Next() protocol.ClientID {
	if a.next == 0 || a.next >= ReservedCeiling {
		a.next = 1
	}
	id := a.next
	a.next++
	return id
}

// NextFree 与 Next 一样前进，但跳过 inUse 返回 true 的 ID。
// 所有可发放 ID 都试过后返回错误
func (a *Allocator) NextFree(inUse func(protocol.ClientID) bool) (protocol.ClientID, error) {
	for range int(MaxClientID) {
		if id := a.Next(); !inUse(id) {
			return id, nil
		}
	}
	return 0, ErrIDsExhausted
}
