// Package formtest 提供 form 包的测试替身
package formtest

import (
	"sort"
	"sync"
	"time"

	"kbquery-backend/internal/form"
)

// Clock 手动推进的 form.Clock
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*timer

	// IgnoreStop 为 true 时 Stop 返回成功但不阻止回调，模拟取消时已经触发的计时器
	IgnoreStop bool
}

type timer struct {
	clock   *Clock
	at      time.Duration
	f       func()
	fired   bool
	stopped bool
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	if !t.clock.IgnoreStop {
		t.stopped = true
	}
	return true
}

func (c *Clock) AfterFunc(d time.Duration, f func()) form.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance 推进时钟，并按调度顺序执行所有到期的回调
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*timer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending 返回尚未执行的回调数量
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// Display 记录每一次渲染
type Display struct {
	mu      sync.Mutex
	Renders []form.DisplayState
	Content string
}

func (d *Display) Render(state form.DisplayState, fragment string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Renders = append(d.Renders, state)
	d.Content = fragment
}

func (d *Display) Snapshot() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Content, len(d.Renders)
}

// Notifier 记录每一次通知
type Notifier struct {
	mu       sync.Mutex
	Messages []string
}

func (n *Notifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
}

func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}
