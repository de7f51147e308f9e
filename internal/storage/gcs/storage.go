package gcs

import (
	"VideoScan-pipeline/internal/storage"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	gcstorage "cloud.google.com/go/storage"
)

// Storage 將 artifact 存放在 GCS bucket，物件名稱即 artifact key
type Storage struct {
	client *gcstorage.Client
	bucket string
}

// NewStorage 使用 Application Default Credentials 建立 GCS client
func NewStorage(ctx context.Context, bucket string) (*Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("artifacts 設定中的 bucket 不得為空")
	}
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("建立 GCS client 失敗: %w", err)
	}
	log.Printf("資訊：GCS artifact 儲存初始化成功，bucket: %s", bucket)
	return &Storage{client: client, bucket: bucket}, nil
}

func (s *Storage) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = storage.ContentType(key, data)
	if written, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		writer.Close()
		return fmt.Errorf("上傳 gs://%s/%s 失敗 (已寫入 %d bytes): %w", s.bucket, key, written, err)
	}
	// Close 才真正完成上傳
	if err := writer.Close(); err != nil {
		return fmt.Errorf("完成上傳 gs://%s/%s 失敗: %w", s.bucket, key, err)
	}
	log.Printf("資訊：artifact 已上傳 gs://%s/%s (%d bytes)", s.bucket, key, len(data))
	return nil
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", storage.ErrArtifactNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("讀取 gs://%s/%s 失敗: %w", s.bucket, key, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("讀取 gs://%s/%s 內容失敗: %w", s.bucket, key, err)
	}
	return data, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}
