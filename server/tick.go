package server

import (
	"context"
	"time"
)

// Run 在调用方协程上按配置频率驱动 Tick（单线程推进会话），
// ctx 取消后关闭会话
func (s *Session) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.opts.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infow("server session running", "tick_rate", s.opts.TickRate, "broadcast_interval", s.BroadcastInterval())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("server session stopping")
			return s.Close()
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
