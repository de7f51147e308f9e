package models

import "time"

// Transcript 每支影片最多一筆 (UNIQUE video_id)
type Transcript struct {
	ID                   string              `json:"id"`
	VideoID              string              `json:"-"`
	Text                 string              `json:"text"`
	Language             string              `json:"language"`
	TranscriptJSONObject string              `json:"transcript_json_object"`
	TranscriptTXTObject  string              `json:"transcript_txt_object"`
	TranscribedAt        time.Time           `json:"transcribed_at"`
	Segments             []TranscriptSegment `json:"segments"`
}

// TranscriptSegment 依 Seq 保留 job 回報的順序
type TranscriptSegment struct {
	ID    string  `json:"id"`
	Seq   int     `json:"seq"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// OcrResult 每支影片最多一筆
type OcrResult struct {
	ID             string     `json:"id"`
	VideoID        string     `json:"-"`
	AllText        string     `json:"all_text"`
	TotalFrames    int        `json:"total_frames"`
	FramesWithText int        `json:"frames_with_text"`
	OcrJSONObject  string     `json:"ocr_json_object"`
	OcrTXTObject   string     `json:"ocr_txt_object"`
	ProcessedAt    time.Time  `json:"processed_at"`
	Frames         []OcrFrame `json:"frames"`
}

type OcrFrame struct {
	ID          string  `json:"id"`
	Seq         int     `json:"seq"`
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	Filename    string  `json:"filename"`
	FrameObject string  `json:"frame_object"`
	OcrText     string  `json:"ocr_text"`
}

// ObjectDetectionResult 每支影片最多一筆
type ObjectDetectionResult struct {
	ID                   string            `json:"id"`
	VideoID              string            `json:"-"`
	Model                string            `json:"model"`
	ConfidenceThreshold  float64           `json:"confidence_threshold"`
	TotalFramesProcessed int               `json:"total_frames_processed"`
	TotalDetections      int               `json:"total_detections"`
	DetectionsJSONObject string            `json:"detections_json_object"`
	ProcessedAt          time.Time         `json:"processed_at"`
	Products             []DetectedProduct `json:"detected_products"`
	Frames               []DetectionFrame  `json:"frames"`
}

// DetectedProduct 名稱在同一次偵測結果內為集合 (區分大小寫)
type DetectedProduct struct {
	ID          string `json:"id"`
	ProductName string `json:"product_name"`
}

type DetectionFrame struct {
	ID              string            `json:"id"`
	Seq             int               `json:"seq"`
	FrameNumber     int               `json:"frame_number"`
	Timestamp       float64           `json:"timestamp"`
	TotalDetections int               `json:"total_detections"`
	FrameObject     string            `json:"frame_object"`
	Details         []DetectionDetail `json:"detections"`
}

// DetectionDetail 不做去重，每個原始偵測框都保留
type DetectionDetail struct {
	ID         string  `json:"id"`
	Seq        int     `json:"seq"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BboxX1     float64 `json:"bbox_x1"`
	BboxY1     float64 `json:"bbox_y1"`
	BboxX2     float64 `json:"bbox_x2"`
	BboxY2     float64 `json:"bbox_y2"`
}

// RecordGraph 是單支影片一次彙整要寫入的完整資料。
// 任一群組為 nil 表示該群組這次不動 (保留既有資料)。
type RecordGraph struct {
	VideoID    string                 `json:"video_id"`
	Hashtags   []string               `json:"hashtags"`
	Transcript *Transcript            `json:"transcript,omitempty"`
	Ocr        *OcrResult             `json:"ocr,omitempty"`
	Detection  *ObjectDetectionResult `json:"detection,omitempty"`
}

// RecordCounts 是在同一個交易中寫入後重新讀回的筆數，報告只使用這些數字
type RecordCounts struct {
	Hashtags           int  `json:"hashtags"`
	HasTranscript      bool `json:"has_transcript"`
	TranscriptSegments int  `json:"transcript_segments"`
	HasOcr             bool `json:"has_ocr"`
	OcrFrames          int  `json:"ocr_frames"`
	OcrFramesWithText  int  `json:"ocr_frames_with_text"`
	HasDetection       bool `json:"has_detection"`
	DetectedProducts   int  `json:"detected_products"`
	DetectionFrames    int  `json:"detection_frames"`
	DetectionDetails   int  `json:"detection_details"`
}
