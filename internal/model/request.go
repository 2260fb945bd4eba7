package model

// SubmitRequest 表单提交，支持 JSON 和表单编码
type SubmitRequest struct {
	Query   string `json:"query" form:"query"`
	Context string `json:"context" form:"context"`
}

type IngestRequest struct {
	Source string `form:"source"`
}
