package model

import "time"

type PageResponse struct {
	PageID    string    `json:"page_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitResponse 提交被接受时返回 Pending 状态的片段
type SubmitResponse struct {
	PageID string `json:"page_id"`
	Seq    uint64 `json:"seq"`
	State  string `json:"state"`
	HTML   string `json:"html"`
}

type ContentResponse struct {
	PageID string `json:"page_id"`
	Seq    uint64 `json:"seq"`
	State  string `json:"state"`
	HTML   string `json:"html"`
}

// RenderEvent 推送给 SSE 客户端的事件
type RenderEvent struct {
	Type      string `json:"type"` // render | alert
	PageID    string `json:"page_id"`
	Seq       uint64 `json:"seq,omitempty"`
	State     string `json:"state,omitempty"`
	HTML      string `json:"html,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

const (
	EventRender = "render"
	EventAlert  = "alert"
)

// Document 知识库中的一条记录
type Document struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Row       int               `json:"row"`
	Content   string            `json:"content"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type IngestResponse struct {
	Source    string   `json:"source"`
	Ingested  int      `json:"ingested"`
	Documents []string `json:"document_ids"`
}
