package handlers

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/models"
	"context"
	"encoding/json"
	"log"
	"net/http"
)

// PipelineRunner 執行單支影片的 pipeline
type PipelineRunner interface {
	Run(ctx context.Context, videoID string) (*aggregator.Result, error)
}

// VideoFetcher 下載並登錄影片
type VideoFetcher interface {
	Fetch(ctx context.Context, videoURL string) (*models.Video, error)
}

// RecordReader 定義了 handlers 需要的唯讀資料庫操作
type RecordReader interface {
	GetVideoByVideoID(ctx context.Context, videoID string) (*models.Video, error)
	ListVideos(ctx context.Context, limit, offset int) ([]models.Video, error)
	LoadRecordGraph(ctx context.Context, videoID string) (*models.RecordGraph, error)
	CountRecords(ctx context.Context, videoID string) (*models.RecordCounts, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("錯誤：寫入 JSON 回應失敗: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
