package form

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultDelay             = 1000 * time.Millisecond
	DefaultFallbackContext   = "No context provided"
	DefaultEmptyQueryMessage = "Please enter a query"
)

var (
	ErrEmptyQuery = errors.New("query is required")
	ErrClosed     = errors.New("form controller closed")
)

// Display 响应区域，每次调用替换全部内容
type Display interface {
	Render(state DisplayState, fragment string)
}

// Notifier 向用户提示校验失败
type Notifier interface {
	Notify(message string)
}

// NotifierFunc 把普通函数适配为 Notifier
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

type Options struct {
	Delay             time.Duration
	FallbackContext   string
	EmptyQueryMessage string
	Clock             Clock
}

func (o Options) withDefaults() Options {
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	if o.FallbackContext == "" {
		o.FallbackContext = DefaultFallbackContext
	}
	if o.EmptyQueryMessage == "" {
		o.EmptyQueryMessage = DefaultEmptyQueryMessage
	}
	if o.Clock == nil {
		o.Clock = RealClock
	}
	return o
}

// render 是一次待投递给 Display 的渲染
type render struct {
	state    DisplayState
	fragment string
}

// Controller 把一次表单提交转换为立即的 Pending 渲染和延迟的 Result 渲染，
// 只有最新的提交可以渲染结果。
//
// Display 和 Notifier 都在 mu 之外调用，回调里可以再调用 State、Seq 或 HandleSubmit。
type Controller struct {
	display  Display
	notifier Notifier
	opts     Options

	mu       sync.Mutex
	seq      uint64
	state    DisplayState
	pending  *Submission
	closed   bool
	queue    []render
	draining bool
}

func NewController(display Display, notifier Notifier, opts Options) *Controller {
	return &Controller{
		display:  display,
		notifier: notifier,
		opts:     opts.withDefaults(),
	}
}

// HandleSubmit 处理一次表单提交
//
// 查询为空时通知用户并返回 ErrEmptyQuery，响应区域保持不变。
// 否则立即渲染 Pending，并在 Delay 之后渲染 Result。
// 新的提交会取消上一次尚未完成的延迟渲染。
func (c *Controller) HandleSubmit(query, contextText string) (*Submission, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if strings.TrimSpace(query) == "" {
		message := c.opts.EmptyQueryMessage
		c.mu.Unlock()
		c.notifier.Notify(message)
		return nil, ErrEmptyQuery
	}

	if c.pending != nil {
		c.pending.supersede()
		c.pending = nil
	}

	c.seq++
	if strings.TrimSpace(contextText) == "" {
		contextText = c.opts.FallbackContext
	}
	sub := newSubmission(c.seq, query, contextText)

	c.setState(DisplayState{Kind: Pending, Seq: sub.seq, Query: query, Context: contextText})
	sub.emit(c.state)

	c.pending = sub
	sub.timer = c.opts.Clock.AfterFunc(c.opts.Delay, func() {
		c.complete(sub)
	})
	c.mu.Unlock()

	c.flush()
	return sub, nil
}

func (c *Controller) complete(sub *Submission) {
	c.mu.Lock()
	// 计时器可能在被取消之前已经触发，这里再按序号丢弃过期结果
	if c.closed || sub.seq != c.seq {
		sub.superseded.Store(true)
		sub.finish()
		c.mu.Unlock()
		return
	}

	c.setState(DisplayState{Kind: Result, Seq: sub.seq, Query: sub.query, Context: sub.context})
	sub.emit(c.state)
	sub.finish()
	c.pending = nil
	c.mu.Unlock()

	c.flush()
}

// setState 必须持有 c.mu；渲染按状态变化的顺序入队
func (c *Controller) setState(state DisplayState) {
	c.state = state
	c.queue = append(c.queue, render{state: state, fragment: RenderFragment(state)})
}

// flush 在锁外按顺序把排队的渲染交给 Display。
// 已有 goroutine 在投递时直接返回，由它负责投递新入队的渲染。
func (c *Controller) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.display.Render(next.state, next.fragment)
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Controller) State() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Seq 返回最近一次被接受的提交序号
func (c *Controller) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close 停止尚未完成的延迟渲染，之后的提交返回 ErrClosed
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.pending != nil {
		c.pending.supersede()
		c.pending = nil
	}
}

// Submission 一次被接受的提交。States 依次产出 Pending 和 Result 后关闭；
// 被取代的提交只产出 Pending。
type Submission struct {
	seq     uint64
	query   string
	context string

	states     chan DisplayState
	timer      Timer
	done       bool
	superseded atomic.Bool
}

func newSubmission(seq uint64, query, contextText string) *Submission {
	return &Submission{
		seq:     seq,
		query:   query,
		context: contextText,
		states:  make(chan DisplayState, 2),
	}
}

func (s *Submission) Seq() uint64 { return s.seq }

func (s *Submission) Query() string { return s.query }

// Context 返回实际显示的上下文（已替换为默认值）
func (s *Submission) Context() string { return s.context }

func (s *Submission) States() <-chan DisplayState { return s.states }

func (s *Submission) Superseded() bool { return s.superseded.Load() }

// emit、finish、supersede 在所属控制器的锁内调用
func (s *Submission) emit(state DisplayState) {
	if !s.done {
		s.states <- state
	}
}

func (s *Submission) finish() {
	if s.done {
		return
	}
	s.done = true
	close(s.states)
}

func (s *Submission) supersede() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.superseded.Store(true)
	s.finish()
}
