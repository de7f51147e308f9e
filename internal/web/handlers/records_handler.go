package handlers

import (
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/storage"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type recordsResponse struct {
	Video   *models.Video        `json:"video"`
	Records *models.RecordGraph  `json:"records"`
	Counts  *models.RecordCounts `json:"counts"`
}

// RecordsHandler 提供單支影片已提交的結果
type RecordsHandler struct {
	db        RecordReader
	artifacts storage.ArtifactStore
}

func NewRecordsHandler(db RecordReader, artifacts storage.ArtifactStore) *RecordsHandler {
	if db == nil || artifacts == nil {
		log.Panicln("RecordsHandler：RecordReader 與 ArtifactStore 不得為空")
	}
	return &RecordsHandler{db: db, artifacts: artifacts}
}

// Records 處理 GET /api/videos/{videoID}/records
func (h *RecordsHandler) Records(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	ctx := r.Context()

	video, err := h.db.GetVideoByVideoID(ctx, videoID)
	if err != nil {
		log.Printf("錯誤：[RecordsHandler] 查詢影片 %s 失敗: %v", videoID, err)
		writeError(w, http.StatusInternalServerError, "查詢影片失敗")
		return
	}
	if video == nil {
		writeError(w, http.StatusNotFound, "找不到影片")
		return
	}
	graph, err := h.db.LoadRecordGraph(ctx, videoID)
	if err != nil {
		log.Printf("錯誤：[RecordsHandler] 讀取影片 %s 的結果失敗: %v", videoID, err)
		writeError(w, http.StatusInternalServerError, "讀取結果失敗")
		return
	}
	counts, err := h.db.CountRecords(ctx, videoID)
	if err != nil {
		log.Printf("錯誤：[RecordsHandler] 計算影片 %s 的筆數失敗: %v", videoID, err)
		writeError(w, http.StatusInternalServerError, "讀取結果失敗")
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Video: video, Records: graph, Counts: counts})
}

// Report 處理 GET /api/videos/{videoID}/report
func (h *RecordsHandler) Report(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	key := storage.ArtifactKey(videoID, storage.KindAggregated, "report.txt")
	if err := storage.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, "無效的 video_id")
		return
	}
	data, err := h.artifacts.Get(r.Context(), key)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		writeError(w, http.StatusNotFound, "該影片尚未產生報告")
		return
	}
	if err != nil {
		log.Printf("錯誤：[RecordsHandler] 讀取報告 %s 失敗: %v", key, err)
		writeError(w, http.StatusInternalServerError, "讀取報告失敗")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
