package client

import (
	"slices"

	"cubesync/protocol"
)

// Remote 客户端对单个玩家最近上报状态的镜像。
// 本客户端自己的条目 Local 为 true
type Remote struct {
	State protocol.PlayerState
	Local bool
}

// Roster 客户端 ID 到镜像状态的映射，归客户端 Tick 所有，
// 不可并发使用
type Roster struct {
	entries map[protocol.ClientID]*Remote
}

func NewRoster() *Roster {
	return &Roster{entries: make(map[protocol.ClientID]*Remote)}
}

// Add 在 ID 不存在时插入 st，返回是否新建了条目
func (r *Roster) Add(st protocol.PlayerState, local bool) bool {
	if _, ok := r.entries[st.ClientID]; ok {
		return false
	}
	r.entries[st.ClientID] = &Remote{State: st, Local: local}
	return true
}

// Apply 覆盖已知远端条目的位置与朝向。
// 未知 ID 与本地条目不处理并返回 false
func (r *Roster) Apply(st protocol.PlayerState) (Remote, bool) {
	e, ok := r.entries[st.ClientID]
	if !ok || e.Local {
		return Remote{}, false
	}
	e.State.Position = st.Position
	e.State.Orientation = st.Orientation
	return *e, true
}

func (r *Roster) Remove(id protocol.ClientID) (Remote, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Remote{}, false
	}
	delete(r.entries, id)
	return *e, true
}

func (r *Roster) Get(id protocol.ClientID) (Remote, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Remote{}, false
	}
	return *e, true
}

func (r *Roster) Len() int { return len(r.entries) }

// IDs 按升序返回所有已知客户端 ID
func (r *Roster) IDs() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clear 清空名单并按 ID 顺序返回原有条目
func (r *Roster) Clear() []Remote {
	out := make([]Remote, 0, len(r.entries))
	for _, id := range r.IDs() {
		out = append(out, *r.entries[id])
	}
	clear(r.entries)
	return out
}
