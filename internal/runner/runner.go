package runner

import (
	"VideoScan-pipeline/internal/extraction"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// RunResult 每個 extraction.AllKinds 恰有一個 Outcome
type RunResult struct {
	VideoID  string
	outcomes map[extraction.Kind]extraction.Outcome
}

func NewRunResult(videoID string, outcomes ...extraction.Outcome) RunResult {
	r := RunResult{VideoID: videoID, outcomes: make(map[extraction.Kind]extraction.Outcome, len(outcomes))}
	for _, o := range outcomes {
		r.outcomes[o.Kind] = o
	}
	for _, k := range extraction.AllKinds {
		if _, ok := r.outcomes[k]; !ok {
			r.outcomes[k] = extraction.Failed(k, extraction.FailureNotConfigured, "未設定此工作")
		}
	}
	return r
}

func (r RunResult) Get(kind extraction.Kind) extraction.Outcome {
	if o, ok := r.outcomes[kind]; ok {
		return o
	}
	return extraction.Failed(kind, extraction.FailureNotConfigured, "未設定此工作")
}

// Kinds 依 extraction.AllKinds 的固定順序
func (r RunResult) Kinds() []extraction.Kind {
	return extraction.AllKinds
}

// Outcomes 依固定順序回傳所有結果
func (r RunResult) Outcomes() []extraction.Outcome {
	out := make([]extraction.Outcome, 0, len(extraction.AllKinds))
	for _, k := range r.Kinds() {
		out = append(out, r.Get(k))
	}
	return out
}

func (r RunResult) Succeeded() int {
	n := 0
	for _, o := range r.outcomes {
		if o.Success() {
			n++
		}
	}
	return n
}

// Runner 同時啟動所有抽取工作，每個工作有自己的逾時，
// 一個工作失敗或逾時不會取消其他工作。Runner 從不寫入資料庫。
type Runner struct {
	jobs     []extraction.Job
	timeouts map[extraction.Kind]time.Duration
}

// NewRunner 每種工作最多一個；timeout <= 0 表示不設個別逾時
func NewRunner(jobs []extraction.Job, timeouts map[extraction.Kind]time.Duration) (*Runner, error) {
	seen := make(map[extraction.Kind]bool, len(jobs))
	for _, j := range jobs {
		if j == nil {
			return nil, fmt.Errorf("抽取工作不得為 nil")
		}
		if seen[j.Kind()] {
			return nil, fmt.Errorf("重複的抽取工作種類: %s", j.Kind())
		}
		seen[j.Kind()] = true
	}
	t := make(map[extraction.Kind]time.Duration, len(timeouts))
	for k, v := range timeouts {
		t[k] = v
	}
	return &Runner{jobs: jobs, timeouts: t}, nil
}

// Run 等到每個工作都結束或逾時後才回傳
func (r *Runner) Run(ctx context.Context, req extraction.Request) RunResult {
	log.Printf("資訊：[Runner] 影片 %s 開始執行 %d 個抽取工作。", req.VideoID, len(r.jobs))
	start := time.Now()

	var (
		mu       sync.Mutex
		outcomes []extraction.Outcome
		wg       sync.WaitGroup
	)
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job extraction.Job) {
			defer wg.Done()
			o := r.runOne(ctx, job, req)
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	result := NewRunResult(req.VideoID, outcomes...)
	log.Printf("資訊：[Runner] 影片 %s 的抽取工作全部結束 (成功 %d/%d)，共耗時 %s。",
		req.VideoID, result.Succeeded(), len(extraction.AllKinds), time.Since(start).Round(time.Millisecond))
	return result
}

// runOne 以工作自己的逾時執行；逾時後不再等待該工作 (它的 goroutine 被放棄)
func (r *Runner) runOne(parent context.Context, job extraction.Job, req extraction.Request) extraction.Outcome {
	kind := job.Kind()
	ctx, cancel := parent, context.CancelFunc(func() {})
	if d := r.timeouts[kind]; d > 0 {
		ctx, cancel = context.WithTimeout(parent, d)
	}
	defer cancel()

	start := time.Now()
	done := make(chan extraction.Outcome, 1)
	go func() {
		done <- extraction.SafeExecute(ctx, job, req)
	}()

	var out extraction.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// 工作可能已同時完成
		select {
		case out = <-done:
		default:
			if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				out = extraction.Failed(kind, extraction.FailureTimeout, "超過時限 %s", r.timeouts[kind])
			} else {
				out = extraction.Failed(kind, extraction.FailureCancelled, "執行已取消")
			}
			log.Printf("警告：[Runner] %s 工作未在時限內結束，已放棄等待。", kind)
		}
	}
	out.Kind = kind
	out.Duration = time.Since(start)

	if out.Success() {
		log.Printf("資訊：[Runner] %s 工作成功，耗時 %s，寫入 %d 個 artifact。", kind, out.Duration.Round(time.Millisecond), len(out.Artifacts))
	} else {
		log.Printf("警告：[Runner] %s 工作失敗 (%s)，耗時 %s: %s", kind, out.Failure.Kind, out.Duration.Round(time.Millisecond), out.Failure.Message)
	}
	return out
}
