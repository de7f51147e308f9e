package services

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/runner"
	"context"
)

// VideoStore 定義了 services 對 videos 資料表的操作
type VideoStore interface {
	RegisterVideo(ctx context.Context, video *models.Video) error
	GetVideoByVideoID(ctx context.Context, videoID string) (*models.Video, error)
	GetVideoIDByURL(ctx context.Context, videoURL string) (string, error)
	ListVideosMissingResults(ctx context.Context, limit int) ([]models.Video, error)
}

// JobRunner 平行執行所有抽取工作
type JobRunner interface {
	Run(ctx context.Context, req extraction.Request) runner.RunResult
}

// ResultAggregator 將一次執行的結果寫入資料庫
type ResultAggregator interface {
	Aggregate(ctx context.Context, video *models.Video, rr runner.RunResult) (*aggregator.Result, error)
}
