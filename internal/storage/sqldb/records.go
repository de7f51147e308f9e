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

func storageWriteErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorageWrite, step, err)
}

// CommitAggregation 在單一交易中寫入一支影片的彙整結果：
// 鎖定影片列、更新 updated_at、補上 hashtag、替換每個非 nil 的結果群組，
// 接著在同一交易內讀回提交後的完整資料與筆數並交給 beforeCommit，最後提交。
// beforeCommit 回傳錯誤時整個交易回滾。
func (s *SQLStore) CommitAggregation(ctx context.Context, graph *models.RecordGraph, beforeCommit func(*models.RecordGraph, *models.RecordCounts) error) (*models.RecordCounts, error) {
	if graph == nil || graph.VideoID == "" {
		return nil, fmt.Errorf("無效的 record graph 或 video_id 為空")
	}
	videoID := graph.VideoID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageWriteErr("開始交易", err)
	}
	defer tx.Rollback()

	var rowID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM videos WHERE video_id = ?"+s.dialect.lockSuffix, videoID).Scan(&rowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrUpstreamMissing, videoID)
		}
		return nil, storageWriteErr("鎖定影片列", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, "UPDATE videos SET updated_at = ? WHERE id = ?", now, rowID); err != nil {
		return nil, storageWriteErr("更新 updated_at", err)
	}

	for _, tag := range graph.Hashtags {
		_, err := tx.ExecContext(ctx, "INSERT INTO hashtags (id, video_id, hashtag, created_at) VALUES (?, ?, ?, ?)"+s.dialect.hashtagConflict,
			uuid.NewString(), videoID, tag, now)
		if err != nil {
			return nil, storageWriteErr("寫入 hashtag '"+tag+"'", err)
		}
	}

	if graph.Transcript != nil {
		if err := s.replaceTranscript(ctx, tx, videoID, graph.Transcript); err != nil {
			return nil, err
		}
		log.Printf("資訊：[CommitAggregation] 影片 %s 的逐字稿已替換 (%d 段)。", videoID, len(graph.Transcript.Segments))
	}
	if graph.Ocr != nil {
		if err := s.replaceOcr(ctx, tx, videoID, graph.Ocr); err != nil {
			return nil, err
		}
		log.Printf("資訊：[CommitAggregation] 影片 %s 的 OCR 結果已替換 (%d 幀)。", videoID, len(graph.Ocr.Frames))
	}
	if graph.Detection != nil {
		if err := s.replaceDetection(ctx, tx, videoID, graph.Detection); err != nil {
			return nil, err
		}
		log.Printf("資訊：[CommitAggregation] 影片 %s 的物件偵測結果已替換 (%d 幀)。", videoID, len(graph.Detection.Frames))
	}

	counts, err := countRecords(ctx, tx, videoID)
	if err != nil {
		return nil, storageWriteErr("重新計算筆數", err)
	}
	if beforeCommit != nil {
		committed, err := loadRecordGraph(ctx, tx, videoID)
		if err != nil {
			return nil, storageWriteErr("讀回彙整結果", err)
		}
		if err := beforeCommit(committed, counts); err != nil {
			return nil, storageWriteErr("提交前處理", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, storageWriteErr("提交交易", err)
	}
	return counts, nil
}

func (s *SQLStore) replaceTranscript(ctx context.Context, tx *sql.Tx, videoID string, t *models.Transcript) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM transcripts WHERE video_id = ?", videoID); err != nil {
		return storageWriteErr("刪除舊逐字稿", err)
	}
	t.ID = uuid.NewString()
	t.VideoID = videoID
	_, err := tx.ExecContext(ctx, `INSERT INTO transcripts (id, video_id, text, language, transcript_json_object, transcript_txt_object, transcribed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, videoID, t.Text, t.Language, t.TranscriptJSONObject, t.TranscriptTXTObject, t.TranscribedAt)
	if err != nil {
		return storageWriteErr("寫入逐字稿", err)
	}
	for i := range t.Segments {
		seg := &t.Segments[i]
		seg.ID = uuid.NewString()
		seg.Seq = i
		_, err := tx.ExecContext(ctx, `INSERT INTO transcript_segments (id, transcript_id, seq, start_sec, end_sec, text) VALUES (?, ?, ?, ?, ?, ?)`,
			seg.ID, t.ID, seg.Seq, seg.Start, seg.End, seg.Text)
		if err != nil {
			return storageWriteErr(fmt.Sprintf("寫入逐字稿片段 #%d", i), err)
		}
	}
	return nil
}

func (s *SQLStore) replaceOcr(ctx context.Context, tx *sql.Tx, videoID string, o *models.OcrResult) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM ocr_results WHERE video_id = ?", videoID); err != nil {
		return storageWriteErr("刪除舊 OCR 結果", err)
	}
	o.ID = uuid.NewString()
	o.VideoID = videoID
	_, err := tx.ExecContext(ctx, `INSERT INTO ocr_results (id, video_id, all_text, total_frames, frames_with_text, ocr_json_object, ocr_txt_object, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, videoID, o.AllText, o.TotalFrames, o.FramesWithText, o.OcrJSONObject, o.OcrTXTObject, o.ProcessedAt)
	if err != nil {
		return storageWriteErr("寫入 OCR 結果", err)
	}
	for i := range o.Frames {
		f := &o.Frames[i]
		f.ID = uuid.NewString()
		f.Seq = i
		_, err := tx.ExecContext(ctx, `INSERT INTO ocr_frames (id, ocr_result_id, seq, frame_number, timestamp_sec, filename, frame_object, ocr_text)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, o.ID, f.Seq, f.FrameNumber, f.Timestamp, f.Filename, f.FrameObject, f.OcrText)
		if err != nil {
			return storageWriteErr(fmt.Sprintf("寫入 OCR 幀 #%d", i), err)
		}
	}
	return nil
}

func (s *SQLStore) replaceDetection(ctx context.Context, tx *sql.Tx, videoID string, d *models.ObjectDetectionResult) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM object_detections WHERE video_id = ?", videoID); err != nil {
		return storageWriteErr("刪除舊物件偵測結果", err)
	}
	d.ID = uuid.NewString()
	d.VideoID = videoID
	_, err := tx.ExecContext(ctx, `INSERT INTO object_detections (id, video_id, model, confidence_threshold, total_frames_processed, total_detections, detections_json_object, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, videoID, d.Model, d.ConfidenceThreshold, d.TotalFramesProcessed, d.TotalDetections, d.DetectionsJSONObject, d.ProcessedAt)
	if err != nil {
		return storageWriteErr("寫入物件偵測結果", err)
	}
	// 名稱已在合併時去重，違反 UNIQUE 代表資料有誤
	for i := range d.Products {
		p := &d.Products[i]
		p.ID = uuid.NewString()
		_, err := tx.ExecContext(ctx, `INSERT INTO detected_products (id, detection_id, seq, product_name) VALUES (?, ?, ?, ?)`,
			p.ID, d.ID, i, p.ProductName)
		if err != nil {
			return storageWriteErr("寫入偵測商品 '"+p.ProductName+"'", err)
		}
	}
	for i := range d.Frames {
		f := &d.Frames[i]
		f.ID = uuid.NewString()
		f.Seq = i
		_, err := tx.ExecContext(ctx, `INSERT INTO detection_frames (id, detection_id, seq, frame_number, timestamp_sec, total_detections, frame_object)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, d.ID, f.Seq, f.FrameNumber, f.Timestamp, f.TotalDetections, f.FrameObject)
		if err != nil {
			return storageWriteErr(fmt.Sprintf("寫入偵測幀 #%d", i), err)
		}
		for j := range f.Details {
			det := &f.Details[j]
			det.ID = uuid.NewString()
			det.Seq = j
			_, err := tx.ExecContext(ctx, `INSERT INTO detection_details (id, detection_frame_id, seq, class_id, class_name, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				det.ID, f.ID, det.Seq, det.ClassID, det.ClassName, det.Confidence, det.BboxX1, det.BboxY1, det.BboxX2, det.BboxY2)
			if err != nil {
				return storageWriteErr(fmt.Sprintf("寫入偵測框 #%d/%d", i, j), err)
			}
		}
	}
	return nil
}

// CountRecords 回傳某支影片目前已提交的各表筆數
func (s *SQLStore) CountRecords(ctx context.Context, videoID string) (*models.RecordCounts, error) {
	counts, err := countRecords(ctx, s.db, videoID)
	if err != nil {
		return nil, fmt.Errorf("計算影片 %s 的筆數失敗: %w", videoID, err)
	}
	return counts, nil
}

func countRecords(ctx context.Context, q queryer, videoID string) (*models.RecordCounts, error) {
	var c models.RecordCounts
	var transcripts, ocrResults, detections int
	steps := []struct {
		query string
		dest  []any
	}{
		{"SELECT COUNT(*) FROM hashtags WHERE video_id = ?", []any{&c.Hashtags}},
		{"SELECT COUNT(*) FROM transcripts WHERE video_id = ?", []any{&transcripts}},
		{`SELECT COUNT(*) FROM transcript_segments s JOIN transcripts t ON s.transcript_id = t.id WHERE t.video_id = ?`, []any{&c.TranscriptSegments}},
		{"SELECT COUNT(*) FROM ocr_results WHERE video_id = ?", []any{&ocrResults}},
		{`SELECT COUNT(*), COALESCE(SUM(CASE WHEN TRIM(f.ocr_text) <> '' THEN 1 ELSE 0 END), 0)
			FROM ocr_frames f JOIN ocr_results o ON f.ocr_result_id = o.id WHERE o.video_id = ?`, []any{&c.OcrFrames, &c.OcrFramesWithText}},
		{"SELECT COUNT(*) FROM object_detections WHERE video_id = ?", []any{&detections}},
		{`SELECT COUNT(*) FROM detected_products p JOIN object_detections d ON p.detection_id = d.id WHERE d.video_id = ?`, []any{&c.DetectedProducts}},
		{`SELECT COUNT(*) FROM detection_frames f JOIN object_detections d ON f.detection_id = d.id WHERE d.video_id = ?`, []any{&c.DetectionFrames}},
		{`SELECT COUNT(*) FROM detection_details x
			JOIN detection_frames f ON x.detection_frame_id = f.id
			JOIN object_detections d ON f.detection_id = d.id WHERE d.video_id = ?`, []any{&c.DetectionDetails}},
	}
	for _, st := range steps {
		if err := q.QueryRowContext(ctx, st.query, videoID).Scan(st.dest...); err != nil {
			return nil, err
		}
	}
	c.HasTranscript = transcripts > 0
	c.HasOcr = ocrResults > 0
	c.HasDetection = detections > 0
	return &c, nil
}

// LoadRecordGraph 讀回一支影片完整的結果資料；影片不存在時回傳 nil, nil
func (s *SQLStore) LoadRecordGraph(ctx context.Context, videoID string) (*models.RecordGraph, error) {
	return loadRecordGraph(ctx, s.db, videoID)
}

func loadRecordGraph(ctx context.Context, q queryer, videoID string) (*models.RecordGraph, error) {
	var exists int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM videos WHERE video_id = ?", videoID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("查詢影片 %s 失敗: %w", videoID, err)
	}
	if exists == 0 {
		return nil, nil
	}

	graph := &models.RecordGraph{VideoID: videoID, Hashtags: []string{}}
	if graph.Hashtags, err = loadHashtags(ctx, q, videoID); err != nil {
		return nil, err
	}
	if graph.Transcript, err = loadTranscript(ctx, q, videoID); err != nil {
		return nil, err
	}
	if graph.Ocr, err = loadOcr(ctx, q, videoID); err != nil {
		return nil, err
	}
	if graph.Detection, err = loadDetection(ctx, q, videoID); err != nil {
		return nil, err
	}
	return graph, nil
}

func loadHashtags(ctx context.Context, q queryer, videoID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT hashtag FROM hashtags WHERE video_id = ? ORDER BY hashtag", videoID)
	if err != nil {
		return nil, fmt.Errorf("查詢 hashtag 失敗: %w", err)
	}
	defer rows.Close()
	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("掃描 hashtag 失敗: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func loadTranscript(ctx context.Context, q queryer, videoID string) (*models.Transcript, error) {
	t := &models.Transcript{VideoID: videoID}
	err := q.QueryRowContext(ctx, `SELECT id, text, language, transcript_json_object, transcript_txt_object, transcribed_at
		FROM transcripts WHERE video_id = ?`, videoID).
		Scan(&t.ID, &t.Text, &t.Language, &t.TranscriptJSONObject, &t.TranscriptTXTObject, &t.TranscribedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查詢逐字稿失敗: %w", err)
	}

	rows, err := q.QueryContext(ctx, "SELECT id, seq, start_sec, end_sec, text FROM transcript_segments WHERE transcript_id = ? ORDER BY seq", t.ID)
	if err != nil {
		return nil, fmt.Errorf("查詢逐字稿片段失敗: %w", err)
	}
	defer rows.Close()
	t.Segments = []models.TranscriptSegment{}
	for rows.Next() {
		var seg models.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.Seq, &seg.Start, &seg.End, &seg.Text); err != nil {
			return nil, fmt.Errorf("掃描逐字稿片段失敗: %w", err)
		}
		t.Segments = append(t.Segments, seg)
	}
	return t, rows.Err()
}

func loadOcr(ctx context.Context, q queryer, videoID string) (*models.OcrResult, error) {
	o := &models.OcrResult{VideoID: videoID}
	err := q.QueryRowContext(ctx, `SELECT id, all_text, total_frames, frames_with_text, ocr_json_object, ocr_txt_object, processed_at
		FROM ocr_results WHERE video_id = ?`, videoID).
		Scan(&o.ID, &o.AllText, &o.TotalFrames, &o.FramesWithText, &o.OcrJSONObject, &o.OcrTXTObject, &o.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查詢 OCR 結果失敗: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT id, seq, frame_number, timestamp_sec, filename, frame_object, ocr_text
		FROM ocr_frames WHERE ocr_result_id = ? ORDER BY seq`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("查詢 OCR 幀失敗: %w", err)
	}
	defer rows.Close()
	o.Frames = []models.OcrFrame{}
	for rows.Next() {
		var f models.OcrFrame
		if err := rows.Scan(&f.ID, &f.Seq, &f.FrameNumber, &f.Timestamp, &f.Filename, &f.FrameObject, &f.OcrText); err != nil {
			return nil, fmt.Errorf("掃描 OCR 幀失敗: %w", err)
		}
		o.Frames = append(o.Frames, f)
	}
	return o, rows.Err()
}

func loadDetection(ctx context.Context, q queryer, videoID string) (*models.ObjectDetectionResult, error) {
	d := &models.ObjectDetectionResult{VideoID: videoID}
	err := q.QueryRowContext(ctx, `SELECT id, model, confidence_threshold, total_frames_processed, total_detections, detections_json_object, processed_at
		FROM object_detections WHERE video_id = ?`, videoID).
		Scan(&d.ID, &d.Model, &d.ConfidenceThreshold, &d.TotalFramesProcessed, &d.TotalDetections, &d.DetectionsJSONObject, &d.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查詢物件偵測結果失敗: %w", err)
	}

	prodRows, err := q.QueryContext(ctx, "SELECT id, product_name FROM detected_products WHERE detection_id = ? ORDER BY seq", d.ID)
	if err != nil {
		return nil, fmt.Errorf("查詢偵測商品失敗: %w", err)
	}
	d.Products = []models.DetectedProduct{}
	for prodRows.Next() {
		var p models.DetectedProduct
		if err := prodRows.Scan(&p.ID, &p.ProductName); err != nil {
			prodRows.Close()
			return nil, fmt.Errorf("掃描偵測商品失敗: %w", err)
		}
		d.Products = append(d.Products, p)
	}
	prodRows.Close()
	if err := prodRows.Err(); err != nil {
		return nil, err
	}

	frameRows, err := q.QueryContext(ctx, `SELECT id, seq, frame_number, timestamp_sec, total_detections, frame_object
		FROM detection_frames WHERE detection_id = ? ORDER BY seq`, d.ID)
	if err != nil {
		return nil, fmt.Errorf("查詢偵測幀失敗: %w", err)
	}
	d.Frames = []models.DetectionFrame{}
	for frameRows.Next() {
		var f models.DetectionFrame
		if err := frameRows.Scan(&f.ID, &f.Seq, &f.FrameNumber, &f.Timestamp, &f.TotalDetections, &f.FrameObject); err != nil {
			frameRows.Close()
			return nil, fmt.Errorf("掃描偵測幀失敗: %w", err)
		}
		d.Frames = append(d.Frames, f)
	}
	frameRows.Close()
	if err := frameRows.Err(); err != nil {
		return nil, err
	}

	// sqlite 單一連線下不能在 frameRows 尚未關閉時再查詢
	for i := range d.Frames {
		details, err := loadDetectionDetails(ctx, q, d.Frames[i].ID)
		if err != nil {
			return nil, err
		}
		d.Frames[i].Details = details
	}
	return d, nil
}

func loadDetectionDetails(ctx context.Context, q queryer, frameID string) ([]models.DetectionDetail, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, seq, class_id, class_name, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2
		FROM detection_details WHERE detection_frame_id = ? ORDER BY seq`, frameID)
	if err != nil {
		return nil, fmt.Errorf("查詢偵測框失敗: %w", err)
	}
	defer rows.Close()
	details := []models.DetectionDetail{}
	for rows.Next() {
		var det models.DetectionDetail
		if err := rows.Scan(&det.ID, &det.Seq, &det.ClassID, &det.ClassName, &det.Confidence, &det.BboxX1, &det.BboxY1, &det.BboxX2, &det.BboxY2); err != nil {
			return nil, fmt.Errorf("掃描偵測框失敗: %w", err)
		}
		details = append(details, det)
	}
	return details, rows.Err()
}
