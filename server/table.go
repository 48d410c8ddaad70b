package server

import "cubesync/transport"

// ConnTable 保存存活的传输连接。删除时用最后一项填补空位，
// 因此删除后位置不稳定
type ConnTable struct {
	conns []transport.ConnID
	index map[transport.ConnID]int
}

func NewConnTable(capacity int) *ConnTable {
	return &ConnTable{
		conns: make([]transport.ConnID, 0, capacity),
		index: make(map[transport.ConnID]int, capacity),
	}
}

// Add 追加 id，重复添加无效果
func (t *ConnTable) Add(id transport.ConnID) {
	if _, ok := t.index[id]; ok {
		return
	}
	t.index[id] = len(t.conns)
	t.conns = append(t.conns, id)
}

// Remove 交换删除 id，返回其是否存在
func (t *ConnTable) Remove(id transport.ConnID) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}
	t.removeAt(i)
	return true
}

// RemoveStale 移除 alive 判定失效的所有句柄并返回。
// 从后往前扫描，换入槽位 i 的条目已检查过
func (t *ConnTable) RemoveStale(alive func(transport.ConnID) bool) []transport.ConnID {
	var evicted []transport.ConnID
	for i := len(t.conns) - 1; i >= 0; i-- {
		if id := t.conns[i]; !alive(id) {
			evicted = append(evicted, id)
			t.removeAt(i)
		}
	}
	return evicted
}

func (t *ConnTable) removeAt(i int) {
	last := len(t.conns) - 1
	delete(t.index, t.conns[i])
	if i != last {
		t.conns[i] = t.conns[last]
		t.index[t.conns[i]] = i
	}
	t.conns = t.conns[:last]
}

// Handles 返回当前句柄的拷贝，便于在表变化时遍历
func (t *ConnTable) Handles() []transport.ConnID {
	out := make([]transport.ConnID, len(t.conns))
	copy(out, t.conns)
	return out
}

func (t *ConnTable) Contains(id transport.ConnID) bool {
	_, ok := t.index[id]
	return ok
}

func (t *ConnTable) Len() int { return len(t.conns) }
