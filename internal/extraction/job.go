package extraction

import (
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/storage"
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/h2non/filetype"
)

// Kind 是抽取工作的種類，每次執行每種最多一個結果
type Kind string

const (
	KindTranscription   Kind = "transcription"
	KindTextRecognition Kind = "text_recognition"
	KindDetection       Kind = "detection"
)

// AllKinds 固定順序，RunResult 與報告都依此排列
var AllKinds = []Kind{KindTranscription, KindTextRecognition, KindDetection}

// Sampling 是影格取樣設定
type Sampling struct {
	FrameIntervalSecs float64
	MaxFrames         int
}

// VideoHandle 指向 artifact store 中已下載的影片，所有工作共用且唯讀
type VideoHandle struct {
	Key   string
	Store storage.ArtifactStore
}

// Open 讀取影片內容並確認檔頭為影片格式
func (h VideoHandle) Open(ctx context.Context) ([]byte, error) {
	if h.Store == nil || h.Key == "" {
		return nil, fmt.Errorf("影片 handle 未設定")
	}
	data, err := h.Store.Get(ctx, h.Key)
	if err != nil {
		return nil, fmt.Errorf("讀取影片 '%s' 失敗: %w", h.Key, err)
	}
	if !filetype.IsVideo(data) {
		return nil, fmt.Errorf("'%s' 不是可辨識的影片格式", h.Key)
	}
	return data, nil
}

// Request 是每個抽取工作的輸入
type Request struct {
	VideoID  string
	Video    VideoHandle
	Sampling Sampling
}

// Job 是三種抽取工作共用的執行介面。Execute 不得 panic 穿出邊界，
// 也不應自行重試。
type Job interface {
	Kind() Kind
	Execute(ctx context.Context, req Request) Outcome
}

type FailureKind string

const (
	FailureTimeout       FailureKind = "timeout"
	FailureExecution     FailureKind = "execution"
	FailureConflict      FailureKind = "conflict"
	FailureNotConfigured FailureKind = "not_configured"
	FailureCancelled     FailureKind = "cancelled"
)

// Failure 描述工作失敗的種類與訊息
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap 讓呼叫端能以 errors.Is 比對 models 中的錯誤分類
func (f *Failure) Unwrap() error {
	switch f.Kind {
	case FailureTimeout:
		return models.ErrJobTimeout
	case FailureConflict:
		return models.ErrAggregationConflict
	default:
		return models.ErrJobExecution
	}
}

// Result 是各種工作成功時的結構化結果
type Result interface {
	ResultKind() Kind
}

// Outcome 是一個工作的最終結果：成功時 Result 不為 nil，失敗時 Failure 不為 nil
type Outcome struct {
	Kind      Kind          `json:"kind"`
	Result    Result        `json:"result,omitempty"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Failure   *Failure      `json:"failure,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (o Outcome) Success() bool {
	return o.Failure == nil && o.Result != nil
}

func Succeeded(kind Kind, result Result, artifacts []string) Outcome {
	return Outcome{Kind: kind, Result: result, Artifacts: artifacts}
}

func Failed(kind Kind, fk FailureKind, format string, args ...any) Outcome {
	return Outcome{Kind: kind, Failure: &Failure{Kind: fk, Message: fmt.Sprintf(format, args...)}}
}

// SafeExecute 呼叫 job.Execute，並把 panic 或格式不正確的回傳轉成 Failure
func SafeExecute(ctx context.Context, job Job, req Request) (out Outcome) {
	kind := job.Kind()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("錯誤：[%s] 抽取工作發生 panic: %v\n%s", kind, r, debug.Stack())
			out = Failed(kind, FailureExecution, "panic: %v", r)
		}
	}()

	out = job.Execute(ctx, req)
	out.Kind = kind
	if out.Failure == nil && out.Result == nil {
		out = Failed(kind, FailureExecution, "工作未回傳結果")
	}
	if out.Result != nil && out.Failure == nil && out.Result.ResultKind() != kind {
		out = Failed(kind, FailureConflict, "工作回傳了 %s 類型的結果", out.Result.ResultKind())
	}
	return out
}
