package storage

import (
	"sort"
	"sync"

	"kbquery-backend/internal/model"
)

type MemoryStorage struct {
	documents map[string]*model.Document
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		documents: make(map[string]*model.Document),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) SaveDocuments(docs []*model.Document) error {
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return ErrInvalidData
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range docs {
		m.documents[doc.ID] = doc
	}
	return nil
}

func (m *MemoryStorage) GetDocument(id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.documents[id]
	if !exists {
		return nil, ErrDocumentNotFound
	}

	return doc, nil
}

func (m *MemoryStorage) ListDocuments() ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]*model.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		docs = append(docs, doc)
	}
	sortDocuments(docs)

	return docs, nil
}

func (m *MemoryStorage) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.documents[id]; !exists {
		return ErrDocumentNotFound
	}

	delete(m.documents, id)
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.documents = make(map[string]*model.Document)
	return nil
}

// sortDocuments 按来源文件和行号排序，保证列表顺序稳定
func sortDocuments(docs []*model.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Source != docs[j].Source {
			return docs[i].Source < docs[j].Source
		}
		if docs[i].Row != docs[j].Row {
			return docs[i].Row < docs[j].Row
		}
		return docs[i].ID < docs[j].ID
	})
}
