package aggregator

import (
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/storage"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
)

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrAggregationConflict, fmt.Sprintf(format, args...))
}

func validSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// mapTranscript 將轉錄結果轉為 Transcript 群組，片段順序維持 worker 回報的順序
func mapTranscript(videoID string, res *extraction.TranscriptionResult, now time.Time) (*models.Transcript, error) {
	t := &models.Transcript{
		VideoID:              videoID,
		Text:                 strings.TrimSpace(res.Text),
		Language:             res.Language,
		TranscriptJSONObject: res.JSONObject,
		TranscriptTXTObject:  res.TXTObject,
		TranscribedAt:        now,
		Segments:             make([]models.TranscriptSegment, 0, len(res.Segments)),
	}
	if t.Language == "" {
		t.Language = "unknown"
	}
	for i, seg := range res.Segments {
		if !validSeconds(seg.Start) || !validSeconds(seg.End) || seg.End < seg.Start {
			return nil, conflictf("逐字稿片段 #%d 的時間區間無效 (%v - %v)", i, seg.Start, seg.End)
		}
		t.Segments = append(t.Segments, models.TranscriptSegment{
			Seq:   i,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return t, nil
}

// ocrAllText 以 "[秒數s] 文字" 串接有文字的影格
func ocrAllText(frames []models.OcrFrame) string {
	var parts []string
	for _, f := range frames {
		if strings.TrimSpace(f.OcrText) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%.2fs] %s", f.Timestamp, f.OcrText))
	}
	return strings.Join(parts, "\n\n")
}

// mapOcr 計數一律由合併後的影格重新計算，與 worker 回報不符時只記錄警告
func mapOcr(videoID string, res *extraction.TextRecognitionResult, now time.Time) (*models.OcrResult, error) {
	o := &models.OcrResult{
		VideoID:       videoID,
		OcrJSONObject: res.JSONObject,
		OcrTXTObject:  res.TXTObject,
		ProcessedAt:   now,
		Frames:        make([]models.OcrFrame, 0, len(res.Frames)),
	}
	for i, f := range res.Frames {
		if f.FrameNumber < 0 || !validSeconds(f.Timestamp) {
			return nil, conflictf("OCR 影格 #%d 的編號或時間戳無效 (%d, %v)", i, f.FrameNumber, f.Timestamp)
		}
		if err := checkFrameKey(videoID, f.FrameObject); err != nil {
			return nil, conflictf("OCR 影格 #%d: %v", i, err)
		}
		o.Frames = append(o.Frames, models.OcrFrame{
			Seq:         i,
			FrameNumber: f.FrameNumber,
			Timestamp:   f.Timestamp,
			Filename:    f.Filename,
			FrameObject: f.FrameObject,
			OcrText:     f.OcrText,
		})
		if strings.TrimSpace(f.OcrText) != "" {
			o.FramesWithText++
		}
	}
	o.TotalFrames = len(o.Frames)
	o.AllText = ocrAllText(o.Frames)

	if res.TotalFrames != o.TotalFrames || res.FramesWithText != o.FramesWithText {
		log.Printf("警告：[Aggregator] 影片 %s 的 OCR 回報計數 (%d/%d) 與影格資料 (%d/%d) 不符，以影格資料為準。",
			videoID, res.TotalFrames, res.FramesWithText, o.TotalFrames, o.FramesWithText)
	}
	return o, nil
}

// checkFrameKey 影格 key 必須位於該影片自己的命名空間下；空字串表示未上傳
func checkFrameKey(videoID, key string) error {
	if key == "" {
		return nil
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if owner := storage.KeyVideoID(key); owner != videoID {
		return fmt.Errorf("影格 key '%s' 屬於影片 %s", key, owner)
	}
	return nil
}

// detectedFrameKey 是 worker 未回報標註影格位置時的預設 key
func detectedFrameKey(videoID string, frameNumber int, timestamp float64) string {
	return storage.ArtifactKey(videoID, storage.KindDetectedFrames,
		fmt.Sprintf("frame_%04d_%.2fs_detected.jpg", frameNumber, timestamp))
}

// mapDetection 商品名稱依首次出現順序去重 (區分大小寫)，偵測框全部保留
func mapDetection(videoID string, res *extraction.DetectionResult, now time.Time) (*models.ObjectDetectionResult, error) {
	d := &models.ObjectDetectionResult{
		VideoID:              videoID,
		Model:                res.Model,
		ConfidenceThreshold:  res.ConfidenceThreshold,
		DetectionsJSONObject: res.JSONObject,
		ProcessedAt:          now,
		Products:             []models.DetectedProduct{},
		Frames:               make([]models.DetectionFrame, 0, len(res.Frames)),
	}
	if res.ConfidenceThreshold < 0 || res.ConfidenceThreshold > 1 {
		return nil, conflictf("信心門檻 %v 超出 0 到 1", res.ConfidenceThreshold)
	}

	seen := make(map[string]bool)
	addProduct := func(name string) {
		if strings.TrimSpace(name) == "" || seen[name] {
			return
		}
		seen[name] = true
		d.Products = append(d.Products, models.DetectedProduct{ProductName: name})
	}
	for _, p := range res.DetectedProducts {
		addProduct(p)
	}

	reportedDetections := 0
	for i, f := range res.Frames {
		if f.FrameNumber < 0 || !validSeconds(f.Timestamp) {
			return nil, conflictf("偵測影格 #%d 的編號或時間戳無效 (%d, %v)", i, f.FrameNumber, f.Timestamp)
		}
		if err := checkFrameKey(videoID, f.FrameObject); err != nil {
			return nil, conflictf("偵測影格 #%d: %v", i, err)
		}
		frame := models.DetectionFrame{
			Seq:             i,
			FrameNumber:     f.FrameNumber,
			Timestamp:       f.Timestamp,
			TotalDetections: len(f.Detections),
			FrameObject:     f.FrameObject,
			Details:         make([]models.DetectionDetail, 0, len(f.Detections)),
		}
		if frame.FrameObject == "" {
			frame.FrameObject = detectedFrameKey(videoID, f.FrameNumber, f.Timestamp)
		}
		for j, det := range f.Detections {
			if math.IsNaN(det.Confidence) || det.Confidence < 0 || det.Confidence > 1 {
				return nil, conflictf("偵測影格 #%d 第 %d 個偵測框的信心值 %v 無效", i, j, det.Confidence)
			}
			if strings.TrimSpace(det.ClassName) == "" {
				return nil, conflictf("偵測影格 #%d 第 %d 個偵測框缺少類別名稱", i, j)
			}
			frame.Details = append(frame.Details, models.DetectionDetail{
				Seq:        j,
				ClassID:    det.ClassID,
				ClassName:  det.ClassName,
				Confidence: det.Confidence,
				BboxX1:     det.BBox.X1,
				BboxY1:     det.BBox.Y1,
				BboxX2:     det.BBox.X2,
				BboxY2:     det.BBox.Y2,
			})
		}
		for _, p := range f.DetectedProducts {
			addProduct(p)
		}
		reportedDetections += f.TotalDetections
		d.TotalDetections += frame.TotalDetections
		d.Frames = append(d.Frames, frame)
	}
	d.TotalFramesProcessed = len(d.Frames)

	if res.TotalFramesProcessed != d.TotalFramesProcessed || res.TotalDetections != d.TotalDetections || reportedDetections != d.TotalDetections {
		log.Printf("警告：[Aggregator] 影片 %s 的偵測回報計數 (%d 幀/%d 框) 與偵測資料 (%d 幀/%d 框) 不符，以偵測資料為準。",
			videoID, res.TotalFramesProcessed, res.TotalDetections, d.TotalFramesProcessed, d.TotalDetections)
	}
	return d, nil
}
