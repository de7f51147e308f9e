package handlers

import (
	"VideoScan-pipeline/internal/storage"
	"bytes"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// MediaHandler 提供 artifact 內容 (影片、影格、報告)
type MediaHandler struct {
	artifacts storage.ArtifactStore
}

// NewMediaHandler 建立一個 MediaHandler 實例
func NewMediaHandler(artifacts storage.ArtifactStore) *MediaHandler {
	if artifacts == nil {
		log.Panicln("MediaHandler：ArtifactStore 不得為空")
	}
	return &MediaHandler{artifacts: artifacts}
}

// ServeHTTP 期望路徑是 /media/{artifact key}，例如 /media/abc123/video/abc123.mp4
func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || strings.HasSuffix(key, "/") {
		http.Error(w, "無效的檔案路徑", http.StatusBadRequest)
		return
	}
	if err := storage.ValidateKey(key); err != nil {
		log.Printf("警告：[MediaHandler] 拒絕可疑的路徑 '%s': %v", key, err)
		http.Error(w, "禁止存取", http.StatusForbidden)
		return
	}

	data, err := h.artifacts.Get(r.Context(), key)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("錯誤：[MediaHandler] 讀取 '%s' 時發生錯誤: %v", key, err)
		http.Error(w, "內部伺服器錯誤", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(key, data))
	// ServeContent 處理 Range requests (用於影片跳轉)
	http.ServeContent(w, r, path.Base(key), time.Time{}, bytes.NewReader(data))
}
