package sqldb

import (
	"VideoScan-pipeline/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const videoColumns = `id, video_id, video_url, title, description, channel, channel_id, account,
	duration_secs, view_count, like_count, upload_date, thumbnail_url, video_object,
	thumbnail_object, metadata_object, extractor, webpage_url, downloaded_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.VideoID, &v.VideoURL, &v.Title, &v.Description, &v.Channel, &v.ChannelID, &v.Account,
		&v.DurationSecs, &v.ViewCount, &v.LikeCount, &v.UploadDate, &v.ThumbnailURL, &v.VideoObject,
		&v.ThumbnailObject, &v.MetadataObject, &v.Extractor, &v.WebpageURL, &v.DownloadedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RegisterVideo 由下載步驟呼叫：依 video_id 新增或更新影片列，ID 與 created_at 保持不變
func (s *SQLStore) RegisterVideo(ctx context.Context, video *models.Video) error {
	if video == nil {
		return fmt.Errorf("傳入的 video 物件不得為 nil")
	}
	if video.VideoID == "" || video.VideoURL == "" || video.VideoObject == "" {
		return fmt.Errorf("video 物件必須提供 video_id、video_url 與 video_object")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("開始交易失敗: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if video.DownloadedAt.IsZero() {
		video.DownloadedAt = now
	}

	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT id, created_at FROM videos WHERE video_id = ?"+s.dialect.lockSuffix, video.VideoID).Scan(&existingID, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		video.ID = uuid.NewString()
		video.CreatedAt = now
		video.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `INSERT INTO videos (`+videoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			video.ID, video.VideoID, video.VideoURL, video.Title, video.Description, video.Channel, video.ChannelID, video.Account,
			video.DurationSecs, video.ViewCount, video.LikeCount, video.UploadDate, video.ThumbnailURL, video.VideoObject,
			video.ThumbnailObject, video.MetadataObject, video.Extractor, video.WebpageURL, video.DownloadedAt, video.CreatedAt, video.UpdatedAt)
		if err != nil {
			return fmt.Errorf("插入新影片記錄失敗 (video_id: %s): %w", video.VideoID, err)
		}
		log.Printf("資訊：新增影片記錄成功 (video_id: %s, url: %s)", video.VideoID, video.VideoURL)
	case err != nil:
		return fmt.Errorf("查找影片失敗 (video_id: %s): %w", video.VideoID, err)
	default:
		video.ID = existingID
		video.CreatedAt = createdAt
		video.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `UPDATE videos SET video_url = ?, title = ?, description = ?, channel = ?, channel_id = ?, account = ?,
			duration_secs = ?, view_count = ?, like_count = ?, upload_date = ?, thumbnail_url = ?, video_object = ?,
			thumbnail_object = ?, metadata_object = ?, extractor = ?, webpage_url = ?, downloaded_at = ?, updated_at = ?
			WHERE id = ?`,
			video.VideoURL, video.Title, video.Description, video.Channel, video.ChannelID, video.Account,
			video.DurationSecs, video.ViewCount, video.LikeCount, video.UploadDate, video.ThumbnailURL, video.VideoObject,
			video.ThumbnailObject, video.MetadataObject, video.Extractor, video.WebpageURL, video.DownloadedAt, video.UpdatedAt,
			existingID)
		if err != nil {
			return fmt.Errorf("更新影片 %s 的元數據失敗: %w", video.VideoID, err)
		}
		log.Printf("資訊：影片 %s 已存在，元數據更新成功。", video.VideoID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交影片記錄失敗 (video_id: %s): %w", video.VideoID, err)
	}
	return nil
}

// GetVideoByVideoID 查無資料時回傳 nil, nil
func (s *SQLStore) GetVideoByVideoID(ctx context.Context, videoID string) (*models.Video, error) {
	if videoID == "" {
		return nil, fmt.Errorf("無效的 video_id")
	}
	v, err := scanVideo(s.db.QueryRowContext(ctx, "SELECT "+videoColumns+" FROM videos WHERE video_id = ?", videoID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查詢影片 %s 失敗: %w", videoID, err)
	}
	return v, nil
}

// GetVideoIDByURL 查無資料時回傳空字串
func (s *SQLStore) GetVideoIDByURL(ctx context.Context, videoURL string) (string, error) {
	var videoID string
	err := s.db.QueryRowContext(ctx, "SELECT video_id FROM videos WHERE video_url = ?", videoURL).Scan(&videoID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("依網址查詢影片失敗 (%s): %w", videoURL, err)
	}
	return videoID, nil
}

// DeleteVideo 刪除影片列，所有子資料由外鍵串聯刪除
func (s *SQLStore) DeleteVideo(ctx context.Context, videoID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM videos WHERE video_id = ?", videoID)
	if err != nil {
		return fmt.Errorf("刪除影片 %s 失敗: %w", videoID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("警告：刪除影片 %s 時未找到任何記錄。", videoID)
	}
	return nil
}

// ListVideos 依下載時間新到舊列出影片
func (s *SQLStore) ListVideos(ctx context.Context, limit, offset int) ([]models.Video, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+videoColumns+" FROM videos ORDER BY downloaded_at DESC, video_id ASC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("查詢影片列表失敗: %w", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

// ListVideosMissingResults 找出缺少任一結果群組的影片，供排程補跑
func (s *SQLStore) ListVideosMissingResults(ctx context.Context, limit int) ([]models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos v
		WHERE NOT EXISTS (SELECT 1 FROM transcripts t WHERE t.video_id = v.video_id)
		   OR NOT EXISTS (SELECT 1 FROM ocr_results o WHERE o.video_id = v.video_id)
		   OR NOT EXISTS (SELECT 1 FROM object_detections d WHERE d.video_id = v.video_id)
		ORDER BY v.downloaded_at ASC, v.video_id ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查詢待處理影片失敗: %w", err)
	}
	defer rows.Close()
	videos, err := collectVideos(rows)
	if err != nil {
		return nil, err
	}
	log.Printf("資訊：查詢到 %d 個待處理影片。", len(videos))
	return videos, nil
}

func collectVideos(rows *sql.Rows) ([]models.Video, error) {
	var videos []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("掃描影片查詢結果行失敗: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("處理影片查詢結果集時發生錯誤: %w", err)
	}
	return videos, nil
}
