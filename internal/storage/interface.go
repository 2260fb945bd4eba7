package storage

import (
	"kbquery-backend/internal/model"
)

// Storage 知识库文档存储
type Storage interface {
	// 文档管理
	SaveDocuments(docs []*model.Document) error
	GetDocument(id string) (*model.Document, error)
	ListDocuments() ([]*model.Document, error)
	DeleteDocument(id string) error
	Clear() error

	// 存储管理
	Init() error
	Close() error
	Backup() error
}
