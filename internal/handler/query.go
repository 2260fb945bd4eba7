package handler

import (
	"errors"
	"net/http"
	"time"

	"kbquery-backend/internal/config"
	"kbquery-backend/internal/form"
	"kbquery-backend/internal/model"
	"kbquery-backend/internal/service"
	"kbquery-backend/internal/utils"
	"kbquery-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type QueryHandler struct {
	pages             *service.PageService
	heartbeat         time.Duration
	emptyQueryMessage string
}

func NewQueryHandler(pages *service.PageService, cfg *config.Config) *QueryHandler {
	return &QueryHandler{
		pages:             pages,
		heartbeat:         cfg.Server.HeartbeatInterval,
		emptyQueryMessage: cfg.Form.EmptyQueryMessage,
	}
}

// Index 每次加载页面都创建一个新的控制器
func (h *QueryHandler) Index(c *gin.Context) {
	page := h.pages.CreatePage()
	c.HTML(http.StatusOK, "index.html", gin.H{
		"PageID": page.ID,
	})
}

func (h *QueryHandler) CreatePage(c *gin.Context) {
	page := h.pages.CreatePage()
	c.JSON(http.StatusCreated, model.PageResponse{
		PageID:    page.ID,
		CreatedAt: page.CreatedAt,
	})
}

func (h *QueryHandler) ClosePage(c *gin.Context) {
	pageID := c.Param("page_id")

	if err := h.pages.ClosePage(pageID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Page closed successfully"})
}

// Submit 接收表单提交，立即返回 Pending 片段，结果通过事件流推送
func (h *QueryHandler) Submit(c *gin.Context) {
	pageID := c.Param("page_id")

	var req model.SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": "bad_request"})
		return
	}

	sub, err := h.pages.Submit(pageID, req.Query, req.Context)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// 第一个状态总是 Pending，且在 HandleSubmit 返回前已经写入
	pending := <-sub.States()
	c.JSON(http.StatusAccepted, model.SubmitResponse{
		PageID: pageID,
		Seq:    sub.Seq(),
		State:  pending.Kind.String(),
		HTML:   form.RenderFragment(pending),
	})
}

func (h *QueryHandler) Content(c *gin.Context) {
	pageID := c.Param("page_id")

	state, html, err := h.pages.Content(pageID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.ContentResponse{
		PageID: pageID,
		Seq:    state.Seq,
		State:  state.Kind.String(),
		HTML:   html,
	})
}

// Events 以 SSE 推送页面响应区域的渲染和提示事件
func (h *QueryHandler) Events(c *gin.Context) {
	pageID := c.Param("page_id")

	events, cancel, err := h.pages.Subscribe(pageID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				sseWriter.Close()
				return
			}
			if err := sseWriter.WriteJSON(ev.Type, ev); err != nil {
				logger.Errorf("Failed to write SSE for page %s: %v", pageID, err)
				return
			}

		case <-heartbeat:
			if err := sseWriter.WriteJSON("heartbeat", gin.H{
				"type":      "heartbeat",
				"timestamp": time.Now().Unix(),
			}); err != nil {
				logger.Warnf("Heartbeat failed for page %s: %v", pageID, err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *QueryHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPageNotFound), errors.Is(err, form.ErrClosed):
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrPageNotFound.Error(), "type": "not_found"})
	case errors.Is(err, form.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": h.emptyQueryMessage, "type": "validation_error"})
	default:
		logger.Errorf("Unexpected error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "type": "internal_error"})
	}
}
