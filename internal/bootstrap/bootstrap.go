// Package bootstrap 依設定組裝 pipeline 的所有元件，供 cmd/app 與 cmd/pipeline 共用
package bootstrap

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/clients/gemini"
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/runner"
	"VideoScan-pipeline/internal/services"
	"VideoScan-pipeline/internal/storage"
	"VideoScan-pipeline/internal/storage/gcs"
	"VideoScan-pipeline/internal/storage/nas"
	"VideoScan-pipeline/internal/storage/sqldb"
	"context"
	"errors"
	"fmt"
	"log"
)

// Components 是組裝完成的元件；Fetch 在未設定下載器時為 nil
type Components struct {
	Store     *sqldb.SQLStore
	Artifacts storage.ArtifactStore
	Pipeline  *services.PipelineService
	Fetch     *services.FetchService

	closers []func() error
}

// Close 依建立的相反順序釋放資源
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewArtifactStore 依 artifacts.driver 建立 NAS 或 GCS 儲存
func NewArtifactStore(ctx context.Context, cfg config.ArtifactsConfig) (storage.ArtifactStore, func() error, error) {
	switch cfg.Driver {
	case "nas":
		s, err := nas.NewFileSystemStorage(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化 NAS 儲存失敗: %w", err)
		}
		return s, func() error { return nil }, nil
	case "gcs":
		s, err := gcs.NewStorage(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化 GCS 儲存失敗: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("不支援的 artifact 儲存驅動程式: %s", cfg.Driver)
	}
}

// Build 執行資料庫遷移並組裝所有元件
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}
	fail := func(err error) (*Components, error) {
		c.Close()
		return nil, err
	}

	if err := sqldb.Migrate(cfg.Database); err != nil {
		return nil, fmt.Errorf("資料庫遷移失敗: %w", err)
	}
	store, err := sqldb.NewSQLStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("初始化資料庫連線失敗: %w", err)
	}
	c.Store = store
	c.closers = append(c.closers, store.Close)

	artifacts, closeArtifacts, err := NewArtifactStore(ctx, cfg.Artifacts)
	if err != nil {
		return fail(err)
	}
	c.Artifacts = artifacts
	c.closers = append(c.closers, closeArtifacts)

	jobs, timeouts, err := extraction.JobsFromConfig(cfg.Jobs, artifacts)
	if err != nil {
		return fail(fmt.Errorf("建立抽取工作失敗: %w", err))
	}
	jobRunner, err := runner.NewRunner(jobs, timeouts)
	if err != nil {
		return fail(fmt.Errorf("建立 Job Runner 失敗: %w", err))
	}

	var summarizer aggregator.Summarizer
	if cfg.GeminiClient.APIKey != "" {
		client, err := gemini.NewClient(cfg.GeminiClient.APIKey, cfg.GeminiClient.Model, cfg.GeminiClient.RequestsPerMinute, cfg.GeminiClient.Timeout)
		if err != nil {
			return fail(fmt.Errorf("初始化 Gemini 客戶端失敗: %w", err))
		}
		summarizer = client
		c.closers = append(c.closers, client.Close)
	}
	agg, err := aggregator.New(store, artifacts, summarizer)
	if err != nil {
		return fail(fmt.Errorf("建立 Aggregator 失敗: %w", err))
	}

	c.Pipeline, err = services.NewPipelineService(cfg, store, artifacts, jobRunner, agg)
	if err != nil {
		return fail(err)
	}
	if cfg.Downloader.Command != "" {
		c.Fetch, err = services.NewFetchService(cfg.Downloader, store, artifacts)
		if err != nil {
			return fail(err)
		}
	} else {
		log.Println("警告：未設定 downloader.command，無法從網址下載影片。")
	}
	log.Println("資訊：所有元件組裝完成。")
	return c, nil
}
