package services

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const defaultBatchSize = 10

// PipelineService 對單支影片執行 抽取 → 彙整 的完整流程
type PipelineService struct {
	cfg        *config.Config
	videos     VideoStore
	artifacts  storage.ArtifactStore
	runner     JobRunner
	aggregator ResultAggregator
}

// NewPipelineService 建立 PipelineService 實例
func NewPipelineService(
	cfg *config.Config,
	videos VideoStore,
	artifacts storage.ArtifactStore,
	jobRunner JobRunner,
	agg ResultAggregator,
) (*PipelineService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("PipelineService：設定不得為空")
	}
	if videos == nil {
		return nil, fmt.Errorf("PipelineService：VideoStore 不得為空")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("PipelineService：ArtifactStore 不得為空")
	}
	if jobRunner == nil {
		return nil, fmt.Errorf("PipelineService：JobRunner 不得為空")
	}
	if agg == nil {
		return nil, fmt.Errorf("PipelineService：Aggregator 不得為空")
	}
	log.Println("資訊：PipelineService 初始化完成。")
	return &PipelineService{
		cfg:        cfg,
		videos:     videos,
		artifacts:  artifacts,
		runner:     jobRunner,
		aggregator: agg,
	}, nil
}

// Run 執行單支影片的 pipeline。影片不存在時在啟動任何工作前回傳 ErrUpstreamMissing。
func (s *PipelineService) Run(ctx context.Context, videoID string) (*aggregator.Result, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: 未指定 video_id", models.ErrUpstreamMissing)
	}
	video, err := s.videos.GetVideoByVideoID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("查詢影片 %s 失敗: %w", videoID, err)
	}
	if video == nil {
		return nil, fmt.Errorf("%w: 影片 %s 尚未下載", models.ErrUpstreamMissing, videoID)
	}
	if video.VideoObject == "" {
		return nil, fmt.Errorf("%w: 影片 %s 沒有影片檔案", models.ErrUpstreamMissing, videoID)
	}

	runID := uuid.NewString()
	start := time.Now()
	log.Printf("資訊：[PipelineService] 開始處理影片 %s (run %s)", videoID, runID)

	req := extraction.Request{
		VideoID: videoID,
		Video:   extraction.VideoHandle{Key: video.VideoObject, Store: s.artifacts},
		Sampling: extraction.Sampling{
			FrameIntervalSecs: s.cfg.Jobs.Sampling.FrameIntervalSecs,
			MaxFrames:         s.cfg.Jobs.Sampling.MaxFrames,
		},
	}
	rr := s.runner.Run(ctx, req)
	log.Printf("資訊：[PipelineService] 影片 %s (run %s) 抽取完成，%d/%d 個工作成功。",
		videoID, runID, rr.Succeeded(), len(rr.Kinds()))

	result, err := s.aggregator.Aggregate(ctx, video, rr)
	if err != nil {
		return nil, fmt.Errorf("彙整影片 %s 失敗: %w", videoID, err)
	}
	log.Printf("資訊：[PipelineService] 影片 %s (run %s) 完成，耗時 %s", videoID, runID, time.Since(start).Round(time.Millisecond))
	return result, nil
}

// RunByURL 以影片網址找到 video_id 後執行
func (s *PipelineService) RunByURL(ctx context.Context, videoURL string) (*aggregator.Result, error) {
	videoID, err := s.videos.GetVideoIDByURL(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("以網址查詢影片失敗: %w", err)
	}
	if videoID == "" {
		return nil, fmt.Errorf("%w: 網址 %s 尚未下載", models.ErrUpstreamMissing, videoURL)
	}
	return s.Run(ctx, videoID)
}

// RunPending 處理一批缺少任何結果群組的影片，單支失敗不會中斷整批
func (s *PipelineService) RunPending(ctx context.Context) (int, error) {
	limit := s.cfg.Scheduler.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	videos, err := s.videos.ListVideosMissingResults(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("查詢待處理影片失敗: %w", err)
	}
	if len(videos) == 0 {
		log.Println("資訊：[PipelineService] 沒有待處理的影片。")
		return 0, nil
	}
	log.Printf("資訊：[PipelineService] 找到 %d 支待處理影片。", len(videos))

	var errs []error
	done := 0
	for _, v := range videos {
		if ctx.Err() != nil {
			log.Printf("警告：[PipelineService] 批次處理已取消，剩餘 %d 支未處理。", len(videos)-done-len(errs))
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.Run(ctx, v.VideoID); err != nil {
			log.Printf("錯誤：[PipelineService] 影片 %s 處理失敗: %v", v.VideoID, err)
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}
