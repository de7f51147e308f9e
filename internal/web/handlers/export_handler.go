package handlers

import (
	"VideoScan-pipeline/internal/models"
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const exportPageSize = 500

// ExportHandler 負責處理匯出請求
type ExportHandler struct {
	db RecordReader
}

// NewExportHandler 建立一個 ExportHandler 實例
func NewExportHandler(db RecordReader) *ExportHandler {
	if db == nil {
		log.Panicln("ExportHandler：RecordReader 不得為空")
	}
	return &ExportHandler{db: db}
}

var exportHeaders = []string{
	"video_id",
	"video_url",
	"title",
	"channel",
	"duration_secs",
	"upload_date",
	"hashtags",
	"transcript_segments",
	"ocr_frames",
	"ocr_frames_with_text",
	"detected_products",
	"detection_frames",
	"detection_details",
}

// ServeHTTP 以 CSV 匯出所有影片與其結果筆數
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Printf("資訊：[ExportHandler] 收到請求: %s %s 來自 %s\n", r.Method, r.URL.Path, r.RemoteAddr)
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=videoscan_%s.csv", time.Now().Format("2006-01-02")))

	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(exportHeaders); err != nil {
		log.Printf("錯誤：[ExportHandler] 寫入 CSV 標題失敗: %v", err)
		return
	}

	rows := 0
	for offset := 0; ; offset += exportPageSize {
		videos, err := h.db.ListVideos(ctx, exportPageSize, offset)
		if err != nil {
			// 標頭已送出，只能記錄並中止
			log.Printf("錯誤：[ExportHandler] 從資料庫獲取影片數據失敗: %v", err)
			return
		}
		for i := range videos {
			row, err := h.row(r, &videos[i])
			if err != nil {
				log.Printf("錯誤：[ExportHandler] 讀取影片 %s 的筆數失敗: %v", videos[i].VideoID, err)
				return
			}
			if err := writer.Write(row); err != nil {
				log.Printf("錯誤：[ExportHandler] 寫入 CSV 資料列失敗: %v", err)
				return
			}
			rows++
		}
		if len(videos) < exportPageSize {
			break
		}
	}
	log.Printf("資訊：[ExportHandler] 匯出完成，共 %d 筆影片。", rows)
}

func (h *ExportHandler) row(r *http.Request, v *models.Video) ([]string, error) {
	graph, err := h.db.LoadRecordGraph(r.Context(), v.VideoID)
	if err != nil {
		return nil, err
	}
	counts, err := h.db.CountRecords(r.Context(), v.VideoID)
	if err != nil {
		return nil, err
	}
	var hashtags []string
	if graph != nil {
		hashtags = graph.Hashtags
	}
	uploadDate := ""
	if v.UploadDate.Valid {
		uploadDate = v.UploadDate.Time.Format("2006-01-02")
	}
	return []string{
		v.VideoID,
		v.VideoURL,
		v.Title.String,
		v.Channel.String,
		strconv.FormatFloat(v.DurationSecs, 'f', -1, 64),
		uploadDate,
		strings.Join(hashtags, " "),
		strconv.Itoa(counts.TranscriptSegments),
		strconv.Itoa(counts.OcrFrames),
		strconv.Itoa(counts.OcrFramesWithText),
		strconv.Itoa(counts.DetectedProducts),
		strconv.Itoa(counts.DetectionFrames),
		strconv.Itoa(counts.DetectionDetails),
	}, nil
}
