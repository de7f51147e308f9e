package handlers

import (
	"VideoScan-pipeline/internal/models"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
)

type fetchRequest struct {
	URL string `json:"url"`
}

// FetchHandler 處理 POST /api/fetch：下載、登錄後在背景執行 pipeline
type FetchHandler struct {
	fetcher VideoFetcher
	trigger *PipelineTrigger
}

func NewFetchHandler(fetcher VideoFetcher, trigger *PipelineTrigger) *FetchHandler {
	if fetcher == nil || trigger == nil {
		log.Panicln("FetchHandler：VideoFetcher 與 PipelineTrigger 不得為空")
	}
	return &FetchHandler{fetcher: fetcher, trigger: trigger}
}

// ServeHTTP 實現 http.Handler 介面
func (h *FetchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "請提供 JSON 格式的 {\"url\": ...}")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "無效的影片網址")
		return
	}
	log.Printf("資訊：[FetchHandler] 收到下載請求: %s 來自 %s\n", req.URL, r.RemoteAddr)

	video, err := h.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		log.Printf("錯誤：[FetchHandler] 下載 %s 失敗: %v", req.URL, err)
		status := http.StatusBadGateway
		if errors.Is(err, models.ErrStorageWrite) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}

	started := h.trigger.Start(video.VideoID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"video_id":         video.VideoID,
		"video_url":        video.VideoURL,
		"pipeline_started": started,
	})
}
