package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"kbquery-backend/internal/config"
	"kbquery-backend/internal/form"
	"kbquery-backend/internal/model"
	"kbquery-backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrPageNotFound = errors.New("page not found")

const subscriberBuffer = 16

// Region 服务端的响应区域，每次渲染整体替换内容并推送给订阅者
type Region struct {
	pageID string

	mu          sync.RWMutex
	state       form.DisplayState
	html        string
	subscribers map[int]chan model.RenderEvent
	nextID      int
	closed      bool
}

func newRegion(pageID string) *Region {
	return &Region{
		pageID:      pageID,
		subscribers: make(map[int]chan model.RenderEvent),
	}
}

func (r *Region) Render(state form.DisplayState, fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = state
	r.html = fragment
	r.broadcast(model.RenderEvent{
		Type:      model.EventRender,
		PageID:    r.pageID,
		Seq:       state.Seq,
		State:     state.Kind.String(),
		HTML:      fragment,
		Timestamp: time.Now().Unix(),
	})
}

// Notify 校验失败时推送 alert 事件
func (r *Region) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcast(model.RenderEvent{
		Type:      model.EventAlert,
		PageID:    r.pageID,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// broadcast 调用方必须持有 r.mu
func (r *Region) broadcast(ev model.RenderEvent) {
	for id, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			logger.Warnf("Subscriber %d of page %s is slow, dropping %s event", id, r.pageID, ev.Type)
		}
	}
}

func (r *Region) Content() (form.DisplayState, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.html
}

// Subscribe 订阅渲染事件；非 Idle 时先收到当前内容
func (r *Region) Subscribe() (<-chan model.RenderEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan model.RenderEvent, subscriberBuffer)
	if r.closed {
		close(ch)
		return ch, func() {}
	}

	id := r.nextID
	r.nextID++
	r.subscribers[id] = ch

	if r.state.Kind != form.Idle {
		ch <- model.RenderEvent{
			Type:      model.EventRender,
			PageID:    r.pageID,
			Seq:       r.state.Seq,
			State:     r.state.Kind.String(),
			HTML:      r.html,
			Timestamp: time.Now().Unix(),
		}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subscribers[id]; ok {
				delete(r.subscribers, id)
				close(ch)
			}
		})
	}
}

func (r *Region) subscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

func (r *Region) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, ch := range r.subscribers {
		delete(r.subscribers, id)
		close(ch)
	}
}

// Page 一次页面加载：一个控制器和它的响应区域
type Page struct {
	ID        string
	CreatedAt time.Time

	controller *form.Controller
	region     *Region
	lastActive atomic.Int64
	used       atomic.Bool
}

func (p *Page) touch(now time.Time) {
	p.lastActive.Store(now.UnixNano())
}

func (p *Page) LastActive() time.Time {
	return time.Unix(0, p.lastActive.Load())
}

type PageService struct {
	mu    sync.RWMutex
	pages map[string]*Page

	form    config.FormConfig
	session config.SessionConfig
	clock   form.Clock
	now     func() time.Time
}

func NewPageService(cfg *config.Config, clock form.Clock) *PageService {
	if clock == nil {
		clock = form.RealClock
	}
	return &PageService{
		pages:   make(map[string]*Page),
		form:    cfg.Form,
		session: cfg.Session,
		clock:   clock,
		now:     time.Now,
	}
}

func (s *PageService) CreatePage() *Page {
	id := uuid.NewString()
	region := newRegion(id)

	page := &Page{
		ID:        id,
		CreatedAt: s.now(),
		region:    region,
		controller: form.NewController(region, region, form.Options{
			Delay:             s.form.ResponseDelay,
			FallbackContext:   s.form.FallbackContext,
			EmptyQueryMessage: s.form.EmptyQueryMessage,
			Clock:             s.clock,
		}),
	}
	page.touch(page.CreatedAt)

	s.mu.Lock()
	s.pages[id] = page
	s.mu.Unlock()

	logger.Debugf("Created page %s", id)
	return page
}

func (s *PageService) getPage(pageID string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, ok := s.pages[pageID]
	if !ok {
		return nil, ErrPageNotFound
	}
	page.touch(s.now())
	return page, nil
}

// Submit 把一次表单提交交给页面的控制器
func (s *PageService) Submit(pageID, query, contextText string) (*form.Submission, error) {
	page, err := s.getPage(pageID)
	if err != nil {
		return nil, err
	}

	page.used.Store(true)
	sub, err := page.controller.HandleSubmit(query, contextText)
	if err != nil {
		logger.WithFields(logrus.Fields{"page_id": pageID}).Infof("Submission rejected: %v", err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"page_id": pageID,
		"seq":     sub.Seq(),
	}).Info("Submission accepted")
	return sub, nil
}

func (s *PageService) Content(pageID string) (form.DisplayState, string, error) {
	page, err := s.getPage(pageID)
	if err != nil {
		return form.DisplayState{}, "", err
	}
	state, html := page.region.Content()
	return state, html, nil
}

func (s *PageService) Subscribe(pageID string) (<-chan model.RenderEvent, func(), error) {
	page, err := s.getPage(pageID)
	if err != nil {
		return nil, nil, err
	}
	page.used.Store(true)
	events, cancel := page.region.Subscribe()
	return events, cancel, nil
}

func (s *PageService) ClosePage(pageID string) error {
	s.mu.Lock()
	page, ok := s.pages[pageID]
	if ok {
		delete(s.pages, pageID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrPageNotFound
	}

	page.controller.Close()
	page.region.close()
	logger.Debugf("Closed page %s", pageID)
	return nil
}

func (s *PageService) PageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// CleanupExpired 关闭超过 TTL 未活动且没有订阅者的页面。
// 从未提交也从未订阅的页面按 UnusedTTL 清理。
func (s *PageService) CleanupExpired() int {
	now := s.now()
	cutoff := now.Add(-s.session.TTL)
	unusedCutoff := cutoff
	if s.session.UnusedTTL > 0 && s.session.UnusedTTL < s.session.TTL {
		unusedCutoff = now.Add(-s.session.UnusedTTL)
	}

	s.mu.RLock()
	var expired []string
	for id, page := range s.pages {
		limit := cutoff
		if !page.used.Load() {
			limit = unusedCutoff
		}
		if page.LastActive().Before(limit) && page.region.subscriberCount() == 0 {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if err := s.ClosePage(id); err != nil {
			continue
		}
		logger.Infof("Cleaned up expired page: %s", id)
	}
	return len(expired)
}

// RunCleanup 定期清理过期页面，直到 ctx 结束
func (s *PageService) RunCleanup(ctx context.Context) {
	if s.session.CleanupInterval <= 0 || s.session.TTL <= 0 {
		return
	}

	ticker := time.NewTicker(s.session.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown 关闭所有页面，结束所有 SSE 订阅
func (s *PageService) Shutdown() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.pages))
	for id := range s.pages {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.ClosePage(id)
	}
}
