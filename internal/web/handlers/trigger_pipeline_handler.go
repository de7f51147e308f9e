package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// PipelineTrigger 在背景執行 pipeline，同一支影片同時只允許一個執行
type PipelineTrigger struct {
	pipeline PipelineRunner
	baseCtx  context.Context

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewPipelineTrigger baseCtx 取消時背景執行會收到取消
func NewPipelineTrigger(baseCtx context.Context, p PipelineRunner) *PipelineTrigger {
	if p == nil {
		log.Panicln("PipelineTrigger：PipelineRunner 不得為空")
	}
	return &PipelineTrigger{pipeline: p, baseCtx: baseCtx, inFlight: make(map[string]bool)}
}

// Start 回傳 false 表示該影片已有執行中的 pipeline
func (t *PipelineTrigger) Start(videoID string) bool {
	t.mu.Lock()
	if t.inFlight[videoID] {
		t.mu.Unlock()
		return false
	}
	t.inFlight[videoID] = true
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			delete(t.inFlight, videoID)
			t.mu.Unlock()
			t.wg.Done()
		}()
		log.Printf("資訊：[PipelineTrigger] 開始執行影片 %s 的背景 pipeline...", videoID)
		if _, err := t.pipeline.Run(t.baseCtx, videoID); err != nil {
			log.Printf("錯誤：[PipelineTrigger] 影片 %s 的背景 pipeline 失敗: %v", videoID, err)
			return
		}
		log.Printf("資訊：[PipelineTrigger] 影片 %s 的背景 pipeline 完成。", videoID)
	}()
	return true
}

// Running 回傳影片是否有執行中的 pipeline
func (t *PipelineTrigger) Running(videoID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight[videoID]
}

// Wait 等待所有背景執行結束
func (t *PipelineTrigger) Wait() { t.wg.Wait() }

// TriggerPipelineHandler 處理 POST /api/videos/{videoID}/pipeline
type TriggerPipelineHandler struct {
	db      RecordReader
	trigger *PipelineTrigger
}

func NewTriggerPipelineHandler(db RecordReader, trigger *PipelineTrigger) *TriggerPipelineHandler {
	if db == nil || trigger == nil {
		log.Panicln("TriggerPipelineHandler：RecordReader 與 PipelineTrigger 不得為空")
	}
	return &TriggerPipelineHandler{db: db, trigger: trigger}
}

// ServeHTTP 實現 http.Handler 介面
func (h *TriggerPipelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	log.Printf("資訊：[TriggerPipelineHandler] 收到請求: 影片 %s 來自 %s\n", videoID, r.RemoteAddr)

	video, err := h.db.GetVideoByVideoID(r.Context(), videoID)
	if err != nil {
		log.Printf("錯誤：[TriggerPipelineHandler] 查詢影片 %s 失敗: %v", videoID, err)
		writeError(w, http.StatusInternalServerError, "查詢影片失敗")
		return
	}
	if video == nil {
		writeError(w, http.StatusNotFound, "影片尚未下載")
		return
	}
	if !h.trigger.Start(videoID) {
		log.Printf("警告：[TriggerPipelineHandler] 影片 %s 的 pipeline 已在進行中，拒絕新的觸發。", videoID)
		writeError(w, http.StatusConflict, "該影片的 pipeline 已在進行中，請稍候。")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":  "pipeline 已觸發，正在背景執行。",
		"video_id": videoID,
	})
}
