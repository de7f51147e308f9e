package extraction

// 以下結構對應各 worker 寫到 stdout 的 JSON。
// *Object 欄位由 CommandJob 在上傳 artifact 後填入，不來自 worker。

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscriptionResult struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`

	JSONObject string `json:"-"`
	TXTObject  string `json:"-"`
}

func (*TranscriptionResult) ResultKind() Kind { return KindTranscription }

type OcrFrame struct {
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	Filename    string  `json:"filename"`
	OcrText     string  `json:"ocr_text"`
	FrameObject string  `json:"-"`
}

type TextRecognitionResult struct {
	TotalFrames    int        `json:"total_frames"`
	FramesWithText int        `json:"frames_with_text"`
	AllText        string     `json:"all_text"`
	Frames         []OcrFrame `json:"frame_results"`

	JSONObject string `json:"-"`
	TXTObject  string `json:"-"`
}

func (*TextRecognitionResult) ResultKind() Kind { return KindTextRecognition }

type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

type DetectionFrame struct {
	FrameNumber      int         `json:"frame_number"`
	Timestamp        float64     `json:"timestamp"`
	Detections       []Detection `json:"detections"`
	DetectedProducts []string    `json:"detected_products"`
	TotalDetections  int         `json:"total_detections"`
	Filename         string      `json:"filename,omitempty"` // 標註後的影格，位於 output_dir
	FrameObject      string      `json:"-"`
}

type DetectionResult struct {
	Model                string           `json:"model"`
	ConfidenceThreshold  float64          `json:"confidence_threshold"`
	TotalFramesProcessed int              `json:"total_frames_processed"`
	TotalDetections      int              `json:"total_detections"`
	DetectedProducts     []string         `json:"detected_products"`
	Frames               []DetectionFrame `json:"frame_results"`

	JSONObject string `json:"-"`
}

func (*DetectionResult) ResultKind() Kind { return KindDetection }
