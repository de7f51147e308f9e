package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
)

// ErrArtifactNotFound 表示指定 key 不存在
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactKind 是 key 中的第二段
type ArtifactKind string

const (
	KindVideo          ArtifactKind = "video"
	KindThumbnail      ArtifactKind = "thumbnail"
	KindMetadata       ArtifactKind = "metadata"
	KindTranscript     ArtifactKind = "transcript"
	KindFrames         ArtifactKind = "frames"
	KindOcr            ArtifactKind = "ocr"
	KindDetections     ArtifactKind = "detections"
	KindDetectedFrames ArtifactKind = "detected_frames"
	KindAggregated     ArtifactKind = "aggregated"
)

// ArtifactStore 是 pipeline 對物件儲存的全部需求：沒有版本，後寫入者覆蓋
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ArtifactKey 組出 {video_id}/{artifact_kind}/{name}
func ArtifactKey(videoID string, kind ArtifactKind, name string) string {
	return videoID + "/" + string(kind) + "/" + name
}

// ValidateKey 拒絕空段落與路徑遍歷
func ValidateKey(key string) error {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return fmt.Errorf("artifact key '%s' 格式錯誤，應為 {video_id}/{artifact_kind}/{name}", key)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return fmt.Errorf("artifact key '%s' 含有無效的段落", key)
		}
	}
	if strings.ContainsRune(key, '\\') {
		return fmt.Errorf("artifact key '%s' 不得包含反斜線", key)
	}
	return nil
}

// KeyVideoID 取出 key 的 video_id 段
func KeyVideoID(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return ""
}

// ContentType 依檔頭判斷 MIME 類型，無法判斷時依副檔名慣例回傳
func ContentType(key string, data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
