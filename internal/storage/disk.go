package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"kbquery-backend/internal/model"
	"kbquery-backend/pkg/logger"
)

type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Document
	cacheSize int
}

type DocumentIndex struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Row       int       `json:"row"`
	CreatedAt time.Time `json:"created_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Document),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadDocuments(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "documents"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) indexPath() string {
	return filepath.Join(d.dataDir, "documents.json")
}

func (d *DiskStorage) documentPath(id string) string {
	return filepath.Join(d.dataDir, "documents", id+".json")
}

// loadDocuments 预热缓存，最多加载 cacheSize 条
func (d *DiskStorage) loadDocuments() error {
	if _, err := os.Stat(d.indexPath()); os.IsNotExist(err) {
		return d.saveIndex([]*DocumentIndex{})
	}

	indexes, err := d.readIndex()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		doc, err := d.loadDocumentFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load document %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = doc
	}

	return nil
}

func (d *DiskStorage) readIndex() ([]*DocumentIndex, error) {
	data, err := os.ReadFile(d.indexPath())
	if err != nil {
		return nil, err
	}

	var indexes []*DocumentIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return indexes, nil
}

func (d *DiskStorage) loadDocumentFromFile(id string) (*model.Document, error) {
	data, err := os.ReadFile(d.documentPath(id))
	if err != nil {
		return nil, err
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// writeFileAtomic 先写临时文件再重命名
func writeFileAtomic(path string, v any) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (d *DiskStorage) saveIndex(indexes []*DocumentIndex) error {
	return writeFileAtomic(d.indexPath(), indexes)
}

func (d *DiskStorage) SaveDocuments(docs []*model.Document) error {
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return ErrInvalidData
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		if err := writeFileAtomic(d.documentPath(doc.ID), doc); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		d.cache[doc.ID] = doc
	}
	d.evictCache()

	if err := d.updateIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStorage) GetDocument(id string) (*model.Document, error) {
	d.mu.RLock()
	if doc, exists := d.cache[id]; exists {
		d.mu.RUnlock()
		return doc, nil
	}
	d.mu.RUnlock()

	doc, err := d.loadDocumentFromFile(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[id] = doc
	d.evictCache()
	d.mu.Unlock()

	return doc, nil
}

func (d *DiskStorage) ListDocuments() ([]*model.Document, error) {
	d.mu.RLock()
	indexes, err := d.readIndex()
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	docs := make([]*model.Document, 0, len(indexes))
	for _, index := range indexes {
		doc, err := d.GetDocument(index.ID)
		if err != nil {
			logger.Errorf("Failed to load indexed document %s: %v", index.ID, err)
			continue
		}
		docs = append(docs, doc)
	}
	sortDocuments(docs)

	return docs, nil
}

func (d *DiskStorage) DeleteDocument(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.documentPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrDocumentNotFound
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, id)

	return d.updateIndex()
}

func (d *DiskStorage) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.dataDir, "documents")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache = make(map[string]*model.Document)
	return d.saveIndex([]*DocumentIndex{})
}

// updateIndex 根据 documents 目录重建索引，调用方持有写锁
func (d *DiskStorage) updateIndex() error {
	files, err := os.ReadDir(filepath.Join(d.dataDir, "documents"))
	if err != nil {
		return err
	}

	indexes := make([]*DocumentIndex, 0, len(files))
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		id := file.Name()[:len(file.Name())-5]
		doc, exists := d.cache[id]
		if !exists {
			doc, err = d.loadDocumentFromFile(id)
			if err != nil {
				logger.Errorf("Failed to load document %s for index update: %v", id, err)
				continue
			}
		}

		indexes = append(indexes, &DocumentIndex{
			ID:        doc.ID,
			Source:    doc.Source,
			Row:       doc.Row,
			CreatedAt: doc.CreatedAt,
		})
	}

	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i].CreatedAt.Before(indexes[j].CreatedAt)
	})

	return d.saveIndex(indexes)
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		createdAt time.Time
	}

	entries := make([]cacheEntry, 0, len(d.cache))
	for id, doc := range d.cache {
		entries = append(entries, cacheEntry{id: id, createdAt: doc.CreatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Document)
	return nil
}

// Backup 把文档目录和索引复制到 backup/backup_<unix>
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	dstDir := filepath.Join(backupDir, "documents")

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyDir(filepath.Join(d.dataDir, "documents"), dstDir); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyFile(d.indexPath(), filepath.Join(backupDir, "documents.json")); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0644)
}
