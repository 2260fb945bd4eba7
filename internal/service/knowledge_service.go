package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"kbquery-backend/internal/model"
	"kbquery-backend/internal/storage"
	"kbquery-backend/pkg/logger"

	"github.com/google/uuid"
)

var ErrEmptyCSV = errors.New("csv has no header row")

// ParseCSV 把 CSV 的每一行转成一条文档，文本形如 "key: value key: value"，按表头顺序
func ParseCSV(source string, r io.Reader) ([]*model.Document, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	// 值和表头的空白都原样保留，只去掉文件开头的 BOM
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	now := time.Now()
	var docs []*model.Document
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		if isBlankRecord(record) {
			continue
		}

		fields := make(map[string]string, len(header))
		parts := make([]string, 0, len(header))
		for i, key := range header {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			fields[key] = value
			parts = append(parts, key+": "+value)
		}

		docs = append(docs, &model.Document{
			ID:        uuid.NewString(),
			Source:    source,
			Row:       row,
			Content:   strings.Join(parts, " "),
			Fields:    fields,
			CreatedAt: now,
		})
	}

	return docs, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type KnowledgeService struct {
	storage storage.Storage
}

func NewKnowledgeService(store storage.Storage) *KnowledgeService {
	return &KnowledgeService{storage: store}
}

// Ingest 解析并保存一个 CSV 来源，返回写入的文档
func (s *KnowledgeService) Ingest(source string, r io.Reader) ([]*model.Document, error) {
	if source == "" {
		source = "upload.csv"
	}

	docs, err := ParseCSV(source, r)
	if err != nil {
		return nil, err
	}

	logger.Infof("Ingesting %d documents from %s", len(docs), source)
	if err := s.storage.SaveDocuments(docs); err != nil {
		return nil, fmt.Errorf("failed to save documents: %w", err)
	}

	return docs, nil
}

func (s *KnowledgeService) List() ([]*model.Document, error) {
	return s.storage.ListDocuments()
}

func (s *KnowledgeService) Get(id string) (*model.Document, error) {
	return s.storage.GetDocument(id)
}

func (s *KnowledgeService) Delete(id string) error {
	return s.storage.DeleteDocument(id)
}

// Clear 删除全部文档，返回删除前的文档数
func (s *KnowledgeService) Clear() (int, error) {
	docs, err := s.storage.ListDocuments()
	if err != nil {
		return 0, err
	}
	if err := s.storage.Clear(); err != nil {
		return 0, fmt.Errorf("failed to clear documents: %w", err)
	}
	logger.Infof("Cleared %d documents", len(docs))
	return len(docs), nil
}

// RunBackup 按 interval 定期备份存储，直到 ctx 结束
func (s *KnowledgeService) RunBackup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.storage.Backup(); err != nil {
				logger.Errorf("Backup failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// NewStorage 按配置创建存储，磁盘初始化失败时退回内存存储
func NewStorage(storageType, dataDir string, cacheSize int) storage.Storage {
	var store storage.Storage

	if storageType == "disk" {
		store = storage.NewDiskStorage(dataDir, cacheSize)
	} else {
		store = storage.NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage()
		store.Init()
	}

	return store
}
