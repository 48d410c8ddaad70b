// Package periodic 提供在所属循环的 Tick 中执行的定时任务。
//
// Task 从不启动协程：所属循环每个 Tick 调用一次 Poll，
// 到期时任务体在调用方协程上执行完毕。Stop 只设置标志，由下一次 Poll 观察到。
package periodic

import (
	"sync/atomic"
	"time"
)

// Task 可取消的固定间隔任务
type Task struct {
	name     string
	interval atomic.Int64 // 纳秒
	fn       func(now time.Time)

	active bool
	next   time.Time
	runs   uint64
}

// New 创建处于停止状态的任务
func New(name string, interval time.Duration, fn func(now time.Time)) *Task {
	t := &Task{name: name, fn: fn}
	t.interval.Store(int64(interval))
	return t
}

func (t *Task) Name() string { return t.name }

// Interval 可在任意协程读取
func (t *Task) Interval() time.Duration { return time.Duration(t.interval.Load()) }

// SetInterval 修改间隔，下一次执行后生效
// （可在任意协程调用）
func (t *Task) SetInterval(d time.Duration) { t.interval.Store(int64(d)) }

// Start 启动任务，首次执行发生在不早于 first 的第一次 Poll
func (t *Task) Start(first time.Time) {
	t.active = true
	t.next = first
}

// Stop 取消任务，不打断正在执行的任务体
func (t *Task) Stop() { t.active = false }

func (t *Task) Active() bool { return t.active }

// Runs 返回任务体已执行的次数
func (t *Task) Runs() uint64 { return t.runs }

// Poll 任务激活且到期时执行任务体。错过的间隔不补跑，
// 迟到执行后下一次从当前时刻起再隔一个间隔
func (t *Task) Poll(now time.Time) bool {
	if !t.active || now.Before(t.next) {
		return false
	}
	t.runs++
	t.fn(now)
	t.next = now.Add(t.Interval())
	return true
}
