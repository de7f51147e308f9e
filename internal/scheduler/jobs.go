package scheduler

import (
	"context"
	"log"
)

// PendingRunner 處理一批尚未有完整結果的影片
type PendingRunner interface {
	RunPending(ctx context.Context) (int, error)
}

// PipelineJob 是一個排程任務，用於補跑未完成的影片
type PipelineJob struct {
	pipeline PendingRunner
	// ctx 在 Stop 時取消，讓執行中的批次提早結束
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPipelineJob 建立一個 PipelineJob
func NewPipelineJob(p PendingRunner) *PipelineJob {
	ctx, cancel := context.WithCancel(context.Background())
	return &PipelineJob{pipeline: p, ctx: ctx, cancel: cancel}
}

// Run 實現 cron.Job 介面 (github.com/robfig/cron/v3)
func (j *PipelineJob) Run() {
	ctx := j.ctx
	if ctx.Err() != nil {
		return
	}

	log.Println("資訊：執行排程任務 - 補跑待處理影片...")
	done, err := j.pipeline.RunPending(ctx)
	if err != nil {
		log.Printf("錯誤：補跑排程任務部分失敗 (完成 %d 支): %v", done, err)
		return
	}
	log.Printf("資訊：補跑排程任務執行完成，共處理 %d 支影片。", done)
}

// abort 讓執行中的任務收到取消
func (j *PipelineJob) abort() { j.cancel() }
