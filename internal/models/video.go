package models

import (
	"database/sql"
	"time"
)

// Video 對應 videos 資料表，由下載步驟建立，pipeline 只會更新 updated_at
type Video struct {
	ID              string         `json:"id"`
	VideoID         string         `json:"video_id"`
	VideoURL        string         `json:"video_url"`
	Title           JsonNullString `json:"title"`
	Description     JsonNullString `json:"description"`
	Channel         JsonNullString `json:"channel"`
	ChannelID       JsonNullString `json:"channel_id"`
	Account         JsonNullString `json:"account"`
	DurationSecs    float64        `json:"duration_secs"`
	ViewCount       int64          `json:"view_count"`
	LikeCount       int64          `json:"like_count"`
	UploadDate      sql.NullTime   `json:"-"`
	ThumbnailURL    JsonNullString `json:"thumbnail_url"`
	VideoObject     string         `json:"video_object"`
	ThumbnailObject JsonNullString `json:"thumbnail_object"`
	MetadataObject  JsonNullString `json:"metadata_object"`
	Extractor       JsonNullString `json:"extractor"`
	WebpageURL      JsonNullString `json:"webpage_url"`
	DownloadedAt    time.Time      `json:"downloaded_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Hashtag 對應 hashtags 資料表，(video_id, hashtag) 唯一
type Hashtag struct {
	ID      string `json:"id"`
	VideoID string `json:"-"`
	Tag     string `json:"hashtag"`
}
