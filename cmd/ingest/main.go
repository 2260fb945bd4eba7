package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"kbquery-backend/internal/config"
	"kbquery-backend/internal/service"
	"kbquery-backend/pkg/logger"
)

type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var configPath string
	var files fileList
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Var(&files, "file", "要导入的 CSV 文件，可重复指定")
	flag.Parse()

	if len(files) == 0 {
		files = fileList{"knowledge-bases/knowledge-base-1.csv"}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	if cfg.Storage.Type != "disk" {
		logger.Warnf("storage.type is %q, ingested documents will not outlive this process", cfg.Storage.Type)
	}

	store := service.NewStorage(cfg.Storage.Type, cfg.Storage.DataDir, cfg.Storage.CacheSize)
	defer store.Close()

	knowledge := service.NewKnowledgeService(store)

	total := 0
	for _, path := range files {
		n, err := ingestFile(knowledge, path)
		if err != nil {
			logger.Errorf("Failed to ingest %s: %v", path, err)
			continue
		}
		total += n
	}

	logger.Infof("Ingested %d documents from %d file(s)", total, len(files))
}

func ingestFile(knowledge *service.KnowledgeService, path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		logger.Warnf("CSV file %s not found, skipping", path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	docs, err := knowledge.Ingest(filepath.Base(path), f)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
