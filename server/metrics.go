package server

import (
	"sync/atomic"
)

// Metrics 记录会话运行期计数（供管理接口输出）
type Metrics struct {
	TickCount         int64 // 已执行的 Tick 数
	TotalTickNs       int64 // Tick 内累计耗时
	Accepted          int64 // 已接入连接数
	Disconnects       int64 // 已移除会话数
	MessagesIn        int64 // 读取的数据事件数
	MessagesOut       int64 // 交给传输层的消息数
	SendErrors        int64 // 传输层拒绝的发送数
	DecodeErrors      int64 // 未知标签、载荷错误或意外命令
	ConsistencyErrors int64 // 应有会话却查不到的次数
	Broadcasts        int64 // 已发送的 SERVER_UPDATE 轮数
}

func (m *Metrics) IncAccepted()          { atomic.AddInt64(&m.Accepted, 1) }
func (m *Metrics) IncDisconnects()       { atomic.AddInt64(&m.Disconnects, 1) }
func (m *Metrics) IncMessagesIn()        { atomic.AddInt64(&m.MessagesIn, 1) }
func (m *Metrics) IncMessagesOut()       { atomic.AddInt64(&m.MessagesOut, 1) }
func (m *Metrics) IncSendErrors()        { atomic.AddInt64(&m.SendErrors, 1) }
func (m *Metrics) IncDecodeErrors()      { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncConsistencyErrors() { atomic.AddInt64(&m.ConsistencyErrors, 1) }
func (m *Metrics) IncBroadcasts()        { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 JSON 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":         tick,
		"accepted":           atomic.LoadInt64(&m.Accepted),
		"disconnects":        atomic.LoadInt64(&m.Disconnects),
		"messages_in":        atomic.LoadInt64(&m.MessagesIn),
		"messages_out":       atomic.LoadInt64(&m.MessagesOut),
		"send_errors":        atomic.LoadInt64(&m.SendErrors),
		"decode_errors":      atomic.LoadInt64(&m.DecodeErrors),
		"consistency_errors": atomic.LoadInt64(&m.ConsistencyErrors),
		"broadcasts":         atomic.LoadInt64(&m.Broadcasts),
		"avg_tick_ms":        avgMs,
	}
}
