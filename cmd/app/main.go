package main

import (
	"VideoScan-pipeline/internal/bootstrap"
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/scheduler"
	"VideoScan-pipeline/internal/web"
	"VideoScan-pipeline/internal/web/handlers"
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load("./configs", "config")
	if err != nil {
		log.Fatalf("錯誤：無法載入設定: %v", err)
	}
	log.Printf("資訊：%s 設定載入成功。", cfg.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("錯誤：初始化失敗: %v", err)
	}
	defer components.Close()

	// 背景 pipeline 使用獨立的 context，關閉時再取消
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	trigger := handlers.NewPipelineTrigger(runCtx, components.Pipeline)

	var appScheduler *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Println("資訊：排程器已在設定檔中啟用，正在初始化...")
		appScheduler, err = scheduler.NewScheduler(components.Pipeline, cfg.Scheduler.PipelineCronSpec)
		if err != nil {
			log.Fatalf("錯誤：初始化排程器失敗: %v", err)
		}
		appScheduler.Start()
	} else {
		log.Println("資訊：排程器已在設定檔中禁用。")
	}

	deps := web.Dependencies{DB: components.Store, Artifacts: components.Artifacts, Trigger: trigger}
	if components.Fetch != nil {
		deps.Fetcher = components.Fetch
	}
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("資訊：HTTP 伺服器正在監聽 %s\n", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("資訊：收到關閉訊號，正在關閉應用程式...")
	case err := <-serverErr:
		log.Printf("錯誤：HTTP 伺服器監聽失敗: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("錯誤：HTTP 伺服器優雅關閉失敗: %v", err)
	} else {
		log.Println("資訊：HTTP 伺服器已關閉。")
	}
	if appScheduler != nil {
		appScheduler.Stop()
	}
	cancelRuns()
	trigger.Wait()
	log.Println("資訊：應用程式已成功關閉。")
}
