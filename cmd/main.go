package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kbquery-backend/internal/config"
	"kbquery-backend/internal/form"
	"kbquery-backend/internal/handler"
	"kbquery-backend/internal/service"
	"kbquery-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 初始化服务
	store := service.NewStorage(cfg.Storage.Type, cfg.Storage.DataDir, cfg.Storage.CacheSize)
	defer store.Close()

	knowledgeService := service.NewKnowledgeService(store)
	pageService := service.NewPageService(cfg, form.RealClock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pageService.RunCleanup(ctx)
	go knowledgeService.RunBackup(ctx, cfg.Storage.BackupInterval)

	// 创建路由
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(cfg,
		handler.NewQueryHandler(pageService, cfg),
		handler.NewKnowledgeHandler(knowledgeService),
	)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 先关闭页面，结束 SSE 长连接，否则 Shutdown 会一直等待
	cancel()
	pageService.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}
