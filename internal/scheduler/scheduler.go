package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const stopTimeout = 10 * time.Second

// Scheduler 包裝 cron，定期執行 PipelineJob
type Scheduler struct {
	cron        *cron.Cron
	pipelineJob *PipelineJob
	stopTimeout time.Duration
}

// NewScheduler 以 Cron 表達式 (含秒) 註冊補跑任務；前一次尚未結束時跳過本次
func NewScheduler(p PendingRunner, pipelineCronSpec string) (*Scheduler, error) {
	if p == nil {
		return nil, fmt.Errorf("Scheduler：PendingRunner 不得為空")
	}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	job := NewPipelineJob(p)
	if pipelineCronSpec != "" {
		if _, err := c.AddJob(pipelineCronSpec, job); err != nil {
			return nil, fmt.Errorf("無法新增補跑任務到排程器 (spec: %s): %w", pipelineCronSpec, err)
		}
		log.Printf("資訊：補跑任務已註冊，排程：%s\n", pipelineCronSpec)
	} else {
		log.Println("警告：未提供補跑任務的 Cron 表達式，該任務將不會被排程。")
	}

	return &Scheduler{cron: c, pipelineJob: job, stopTimeout: stopTimeout}, nil
}

// Start 非阻塞啟動
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("資訊：排程器已非阻塞啟動 (如果任務已註冊)。")
}

// Stop 停止排程並取消執行中的任務，最多等待 10 秒
func (s *Scheduler) Stop() bool {
	log.Println("資訊：正在停止排程器...")
	ctx := s.cron.Stop()
	s.pipelineJob.abort()
	select {
	case <-ctx.Done():
		log.Println("資訊：排程器已優雅停止，所有運行中任務已完成。")
		return true
	case <-time.After(s.stopTimeout):
		log.Println("警告：排程器停止超時，可能仍有任務在執行。")
		return false
	}
}
