package nas

import (
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"os"            // 用於檔案系統操作，如建立目錄、檢查檔案是否存在
	"path/filepath" // 用於處理檔案路徑，確保跨平台相容性
)

// FileSystemStorage 結構負責與本地檔案系統 (NAS) 互動
type FileSystemStorage struct {
	basePath string // 從設定檔讀取的 artifact 儲存根路徑
}

// NewFileSystemStorage 建立一個 FileSystemStorage 實例
// 它會檢查 basePath 是否存在，如果不存在則嘗試建立它。
func NewFileSystemStorage(cfg config.ArtifactsConfig) (*FileSystemStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("artifacts 設定中的 basePath 不得為空")
	}

	absBasePath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("無法取得 artifacts basePath 的絕對路徑 '%s': %w", cfg.BasePath, err)
	}

	if _, err := os.Stat(absBasePath); os.IsNotExist(err) {
		log.Printf("資訊：NAS 根目錄 '%s' 不存在，正在嘗試建立...", absBasePath)
		if err := os.MkdirAll(absBasePath, 0755); err != nil {
			return nil, fmt.Errorf("無法建立 NAS 根目錄 '%s': %w", absBasePath, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("檢查 NAS 根目錄 '%s' 時發生錯誤: %w", absBasePath, err)
	}

	log.Printf("資訊：FileSystemStorage 初始化成功，artifact 根路徑設定為: %s", absBasePath)
	return &FileSystemStorage{basePath: absBasePath}, nil
}

// absolutePath 將 key 轉為 basePath 底下的絕對路徑
func (fs *FileSystemStorage) absolutePath(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(key)), nil
}

// Put 寫入 artifact；先寫暫存檔再 rename，讀取端不會看到寫到一半的檔案
func (fs *FileSystemStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	targetPath, err := fs.absolutePath(key)
	if err != nil {
		return err
	}
	targetDir := filepath.Dir(targetPath)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("無法建立目標目錄 '%s': %w", targetDir, err)
	}

	tmp, err := os.CreateTemp(targetDir, ".put-*")
	if err != nil {
		return fmt.Errorf("無法建立暫存檔於 '%s': %w", targetDir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("無法寫入 artifact '%s': %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("無法關閉暫存檔 '%s': %w", tmpName, err)
	}
	if err := os.Rename(tmpName, targetPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("無法將 artifact 移動到 '%s': %w", targetPath, err)
	}
	log.Printf("資訊：artifact 已寫入 '%s' (%d bytes)", key, len(data))
	return nil
}

// Get 讀取 artifact，不存在時回傳 storage.ErrArtifactNotFound
func (fs *FileSystemStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	absolutePath, err := fs.absolutePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absolutePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrArtifactNotFound, key)
		}
		return nil, fmt.Errorf("無法讀取 artifact '%s': %w", absolutePath, err)
	}
	return data, nil
}

// Delete 刪除單一 artifact，不存在視為成功
func (fs *FileSystemStorage) Delete(ctx context.Context, key string) error {
	absolutePath, err := fs.absolutePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(absolutePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("無法刪除 artifact '%s': %w", absolutePath, err)
	}
	log.Printf("資訊：artifact '%s' 已刪除。", key)
	return nil
}
