package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MediaGuard/config"
	"MediaGuard/core/classify"
	"MediaGuard/core/events"
	"MediaGuard/core/ingest"
	"MediaGuard/core/pipeline"
	"MediaGuard/core/transcribe"
	"MediaGuard/db"
	"MediaGuard/logger"
	"MediaGuard/repository"

	"github.com/gorilla/mux"
)

const shutdownTimeout = 15 * time.Second

// NewRouter wires every endpoint onto a gorilla/mux router.
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter()
	router.Use(accessLog)
	router.Use(corsMiddleware(h.cfg.CORSOrigin))

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)

	// API Endpoints
	router.HandleFunc("/api/upload", h.UploadHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/stream/{id}", h.StreamHandler).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/api/media/{id}/transcript.xlsx", h.ExportHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/ws/media/{id}", h.StatusSocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/uploads/{id}", h.FileHandler).Methods(http.MethodGet, http.MethodHead)

	// RPC
	router.HandleFunc("/rpc/{procedure}", h.RPCHandler).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)

	return router
}

// Start opens the store and providers, serves HTTP on cfg.Port and blocks
// until SIGINT/SIGTERM. In-flight background stages are cancelled and waited
// for before it returns.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureDirExists(cfg.UploadDir); err != nil {
		return err
	}

	gdb, err := db.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(gdb)
	if err := db.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := repository.NewGormMediaRepository(gdb)

	hub := events.NewHub()
	defer hub.Close()
	publishers := events.Multi{hub}
	if db.RedisEnabled(cfg) {
		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			// Redis 只用于状态广播，连接失败不影响主流程
			logger.Warn("Redis 不可用，状态事件只在本进程内广播", logger.ErrorField(err))
		} else {
			defer rdb.Close()
			publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.RedisChannel))
			logger.Info("Redis 已连接", logger.String("channel", cfg.RedisChannel))
		}
	}

	orch := NewOrchestrator(cfg, store, publishers)
	engine := ingest.NewEngine(cfg.UploadDir, cfg.MaxUploadBytes)
	h := NewAPIHandler(cfg, store, engine, orch, hub)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// 上传和推流可能持续很久，不设置 ReadTimeout/WriteTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务启动",
			logger.String("addr", srv.Addr),
			logger.String("uploadDir", cfg.UploadDir),
			logger.String("dbDriver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			orch.Stop()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务未能优雅关闭", logger.ErrorField(err))
	}

	// 取消后台任务并等待它们写入最终状态
	orch.Stop()
	logger.Info("服务已停止")
	return nil
}

// NewOrchestrator builds the pipeline with HTTP provider clients from cfg.
func NewOrchestrator(cfg *config.Config, store pipeline.Store, pub events.Publisher) *pipeline.Orchestrator {
	chat := classify.NewChatClient(classify.ChatConfig{
		BaseURL: cfg.LemonadeBaseURL,
		APIKey:  cfg.LemonadeAPIKey,
		Model:   cfg.LemonadeModel,
		Timeout: cfg.LemonadeTimeout,
	})
	return pipeline.New(pipeline.Deps{
		Store:       store,
		Transcriber: transcribe.NewClient(transcribe.Config{BaseURL: cfg.TranscribeURL, Timeout: cfg.TranscribeTimeout}),
		Batch:       classify.NewBatchClient(classify.BatchConfig{BaseURL: cfg.AnalysisURL, Timeout: cfg.AnalysisTimeout}),
		Extremism:   classify.NewLLMClassifier(chat),
		Tagger:      classify.NewLLMTagger(chat),
		Events:      pub,
	}, pipelineConfig(cfg))
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		TranscribeTimeout: cfg.TranscribeTimeout,
		AnalysisTimeout:   cfg.AnalysisTimeout,
		TagTimeout:        cfg.TagTimeout,
		ObserverEnabled:   cfg.ExtremismObserver,
		SegmentDelay:      cfg.SegmentDelay,
	}
}

func ensureDirExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("创建目录", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	} else if err != nil {
		return fmt.Errorf("check directory %s: %w", path, err)
	}
	return nil
}
