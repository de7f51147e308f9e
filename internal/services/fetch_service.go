package services

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/storage"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
)

// DownloadRecord 是下載器寫到 stdout 的 JSON。檔案欄位為相對於 {output_dir} 的檔名。
type DownloadRecord struct {
	VideoID       string   `json:"video_id"`
	VideoURL      string   `json:"video_url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Channel       string   `json:"channel"`
	ChannelID     string   `json:"channel_id"`
	Account       string   `json:"account"`
	Duration      float64  `json:"duration"`
	ViewCount     int64    `json:"view_count"`
	LikeCount     int64    `json:"like_count"`
	UploadDate    string   `json:"upload_date"`
	Hashtags      []string `json:"hashtags"`
	ThumbnailURL  string   `json:"thumbnail_url"`
	Extractor     string   `json:"extractor"`
	WebpageURL    string   `json:"webpage_url"`
	VideoFile     string   `json:"video_file"`
	ThumbnailFile string   `json:"thumbnail_file,omitempty"`
	InfoFile      string   `json:"info_file,omitempty"`
}

// VideoIDForURL 與下載器相同：網址的 md5 hex
func VideoIDForURL(videoURL string) string {
	sum := md5.Sum([]byte(videoURL))
	return hex.EncodeToString(sum[:])
}

// parseUploadDate 只取前 8 碼 YYYYMMDD，格式不符時視為沒有日期
func parseUploadDate(s string) (time.Time, bool) {
	if len(s) < 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FetchService 負責影片下載與登錄
type FetchService struct {
	downloader config.CommandConfig
	videos     VideoStore
	artifacts  storage.ArtifactStore

	// Env 會附加在目前的環境變數之後傳給下載器
	Env []string
}

// NewFetchService 建立 FetchService 實例
func NewFetchService(downloader config.CommandConfig, videos VideoStore, artifacts storage.ArtifactStore) (*FetchService, error) {
	if downloader.Command == "" {
		return nil, fmt.Errorf("FetchService：未設定下載器 command")
	}
	if videos == nil {
		return nil, fmt.Errorf("FetchService：VideoStore 不得為空")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("FetchService：ArtifactStore 不得為空")
	}
	log.Println("資訊：FetchService 初始化完成。")
	return &FetchService{downloader: downloader, videos: videos, artifacts: artifacts}, nil
}

// Fetch 執行下載器、上傳影片與附屬檔案並登錄 Video。重複下載同一網址會更新既有資料列。
func (s *FetchService) Fetch(ctx context.Context, videoURL string) (*models.Video, error) {
	u, err := url.Parse(videoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("無效的影片網址: %q", videoURL)
	}

	if s.downloader.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.downloader.Timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp("", "videoscan-download-*")
	if err != nil {
		return nil, fmt.Errorf("建立暫存目錄失敗: %w", err)
	}
	defer os.RemoveAll(workDir)

	defaultID := VideoIDForURL(videoURL)
	rec, err := s.download(ctx, videoURL, defaultID, workDir)
	if err != nil {
		return nil, err
	}
	if rec.VideoID == "" {
		rec.VideoID = defaultID
	}
	if strings.ContainsAny(rec.VideoID, `/\`) || rec.VideoID == "." || rec.VideoID == ".." {
		return nil, fmt.Errorf("%w: 下載器回報的 video_id %q 無效", models.ErrJobExecution, rec.VideoID)
	}
	if rec.VideoURL == "" {
		rec.VideoURL = videoURL
	}
	if len(rec.Hashtags) == 0 {
		rec.Hashtags = aggregator.ExtractHashtags(rec.Description)
	}

	video, err := s.upload(ctx, rec, workDir)
	if err != nil {
		return nil, err
	}
	if err := s.videos.RegisterVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("登錄影片 %s 失敗: %w", video.VideoID, err)
	}
	log.Printf("資訊：[FetchService] 影片 %s 下載並登錄完成 (%s)", video.VideoID, video.VideoURL)
	return video, nil
}

func (s *FetchService) download(ctx context.Context, videoURL, videoID, outputDir string) (*DownloadRecord, error) {
	r := strings.NewReplacer("{url}", videoURL, "{video_id}", videoID, "{output_dir}", outputDir)
	args := make([]string, len(s.downloader.Args))
	for i, a := range s.downloader.Args {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, s.downloader.Command, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("資訊：[FetchService] 啟動下載器: %s %s", s.downloader.Command, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: 下載器超過時限", models.ErrJobTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 2000 {
			msg = msg[len(msg)-2000:]
		}
		return nil, fmt.Errorf("%w: 下載器執行失敗: %v: %s", models.ErrJobExecution, err, msg)
	}

	var rec DownloadRecord
	if err := json.Unmarshal(stdout.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("%w: 無法解析下載器輸出: %v", models.ErrJobExecution, err)
	}
	if rec.VideoFile == "" {
		return nil, fmt.Errorf("%w: 下載器未回報影片檔案", models.ErrUpstreamMissing)
	}
	return &rec, nil
}

// readOutput 讀取下載器輸出目錄內的檔案，拒絕跳出目錄的檔名
func readOutput(outputDir, name string) ([]byte, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("下載器回報的檔名 %q 無效", name)
	}
	return os.ReadFile(filepath.Join(outputDir, name))
}

func (s *FetchService) upload(ctx context.Context, rec *DownloadRecord, outputDir string) (*models.Video, error) {
	id := rec.VideoID
	data, err := readOutput(outputDir, rec.VideoFile)
	if err != nil {
		return nil, fmt.Errorf("%w: 讀取下載的影片失敗: %v", models.ErrUpstreamMissing, err)
	}
	if !filetype.IsVideo(data) {
		return nil, fmt.Errorf("%w: %s 不是可辨識的影片格式", models.ErrUpstreamMissing, rec.VideoFile)
	}
	ext := filepath.Ext(rec.VideoFile)
	if ext == "" {
		ext = ".mp4"
	}
	videoKey := storage.ArtifactKey(id, storage.KindVideo, id+ext)
	if err := s.artifacts.Put(ctx, videoKey, data); err != nil {
		return nil, fmt.Errorf("%w: 上傳影片失敗: %v", models.ErrStorageWrite, err)
	}

	video := &models.Video{
		VideoID:      id,
		VideoURL:     rec.VideoURL,
		Title:        models.NewJsonNullString(rec.Title),
		Description:  models.NewJsonNullString(rec.Description),
		Channel:      models.NewJsonNullString(rec.Channel),
		ChannelID:    models.NewJsonNullString(rec.ChannelID),
		Account:      models.NewJsonNullString(rec.Account),
		DurationSecs: rec.Duration,
		ViewCount:    rec.ViewCount,
		LikeCount:    rec.LikeCount,
		ThumbnailURL: models.NewJsonNullString(rec.ThumbnailURL),
		VideoObject:  videoKey,
		Extractor:    models.NewJsonNullString(rec.Extractor),
		WebpageURL:   models.NewJsonNullString(rec.WebpageURL),
		DownloadedAt: time.Now(),
	}
	if t, ok := parseUploadDate(rec.UploadDate); ok {
		video.UploadDate.Time, video.UploadDate.Valid = t, true
	}

	if rec.ThumbnailFile != "" {
		thumb, err := readOutput(outputDir, rec.ThumbnailFile)
		if err != nil {
			log.Printf("警告：[FetchService] 影片 %s 的縮圖無法讀取，略過: %v", id, err)
		} else {
			key := storage.ArtifactKey(id, storage.KindThumbnail, "thumbnail"+filepath.Ext(rec.ThumbnailFile))
			if err := s.artifacts.Put(ctx, key, thumb); err != nil {
				return nil, fmt.Errorf("%w: 上傳縮圖失敗: %v", models.ErrStorageWrite, err)
			}
			video.ThumbnailObject = models.NewJsonNullString(key)
		}
	}

	if rec.InfoFile != "" {
		info, err := readOutput(outputDir, rec.InfoFile)
		if err != nil {
			log.Printf("警告：[FetchService] 影片 %s 的 info.json 無法讀取，略過: %v", id, err)
		} else if err := s.artifacts.Put(ctx, storage.ArtifactKey(id, storage.KindMetadata, "info.json"), info); err != nil {
			return nil, fmt.Errorf("%w: 上傳 info.json 失敗: %v", models.ErrStorageWrite, err)
		}
	}

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化 metadata 失敗: %w", err)
	}
	metaKey := storage.ArtifactKey(id, storage.KindMetadata, "metadata.json")
	if err := s.artifacts.Put(ctx, metaKey, meta); err != nil {
		return nil, fmt.Errorf("%w: 上傳 metadata 失敗: %v", models.ErrStorageWrite, err)
	}
	video.MetadataObject = models.NewJsonNullString(metaKey)
	return video, nil
}
