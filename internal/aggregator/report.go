package aggregator

import (
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"fmt"
	"sort"
	"strings"
	"time"
)

const summaryUnavailable = "summary unavailable"

// StageStatus 是報告中單一抽取階段的狀態
type StageStatus struct {
	Kind      extraction.Kind `json:"kind"`
	Succeeded bool            `json:"succeeded"`
	Reason    string          `json:"reason,omitempty"`
}

// AggregatedRecord 是寫到 {video_id}/aggregated/aggregated.json 的結構化結果
type AggregatedRecord struct {
	VideoID            string              `json:"video_id"`
	VideoURL           string              `json:"video_url"`
	Title              string              `json:"title,omitempty"`
	ProcessedAt        time.Time           `json:"processed_at"`
	TextOnVideo        string              `json:"text_on_video"`
	TranscriptText     string              `json:"whisper_content"`
	TranscriptLanguage string              `json:"language,omitempty"`
	DetectedObjects    []string            `json:"detected_objects"`
	DetectedProducts   []string            `json:"detected_products"`
	Hashtags           []string            `json:"hashtags"`
	AISummary          string              `json:"ai_summary,omitempty"`
	Stages             []StageStatus       `json:"stages"`
	Counts             models.RecordCounts `json:"counts"`
}

// textOnVideo 去掉 "[0.00s]" 開頭的時間標記行，其餘以空白串接
func textOnVideo(allText string) string {
	var lines []string
	for _, line := range strings.Split(allText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if i := strings.Index(line, "]"); i >= 0 {
				line = strings.TrimSpace(line[i+1:])
			} else {
				continue
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

// detectedObjects 回傳所有偵測框的類別名稱 (去重、排序)
func detectedObjects(d *models.ObjectDetectionResult) []string {
	if d == nil {
		return []string{}
	}
	seen := make(map[string]bool)
	out := []string{}
	for _, f := range d.Frames {
		for _, det := range f.Details {
			if !seen[det.ClassName] {
				seen[det.ClassName] = true
				out = append(out, det.ClassName)
			}
		}
	}
	sort.Strings(out)
	return out
}

func productNames(d *models.ObjectDetectionResult) []string {
	out := []string{}
	if d == nil {
		return out
	}
	for _, p := range d.Products {
		out = append(out, p.ProductName)
	}
	return out
}

func stageLine(s StageStatus, c models.RecordCounts) string {
	if !s.Succeeded {
		return fmt.Sprintf("%-17s failed: %s", s.Kind, s.Reason)
	}
	var detail string
	switch s.Kind {
	case extraction.KindTranscription:
		detail = fmt.Sprintf("%d segments", c.TranscriptSegments)
	case extraction.KindTextRecognition:
		detail = fmt.Sprintf("%d frames, %d with text", c.OcrFrames, c.OcrFramesWithText)
	case extraction.KindDetection:
		detail = fmt.Sprintf("%d frames, %d detections, %d products", c.DetectionFrames, c.DetectionDetails, c.DetectedProducts)
	}
	return fmt.Sprintf("%-17s succeeded (%s)", s.Kind, detail)
}

const (
	heavyRule = "============================================================"
	lightRule = "------------------------------------------------------------"
)

func section(b *strings.Builder, rule, title string) {
	b.WriteString(rule + "\n" + title + "\n" + rule + "\n")
}

// RenderReport 產生人類可讀的文字報告；計數只取自剛寫入的資料列
func RenderReport(rec *AggregatedRecord) string {
	var b strings.Builder
	section(&b, heavyRule, "Video Analysis Results")
	b.WriteString("\n")
	fmt.Fprintf(&b, "Video ID: %s\n", rec.VideoID)
	if rec.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", rec.Title)
	}
	if rec.VideoURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", rec.VideoURL)
	}
	fmt.Fprintf(&b, "Processed At: %s\n\n", rec.ProcessedAt.Format(time.RFC3339))

	section(&b, lightRule, "PIPELINE STAGES")
	for _, s := range rec.Stages {
		b.WriteString(stageLine(s, rec.Counts) + "\n")
	}
	b.WriteString("\n")

	if rec.AISummary != "" {
		section(&b, heavyRule, "AI SUMMARY")
		b.WriteString(rec.AISummary + "\n\n")
	}

	section(&b, lightRule, "TEXT ON VIDEO (OCR)")
	b.WriteString(orPlaceholder(rec.TextOnVideo, "No text detected") + "\n\n")

	section(&b, lightRule, "TRANSCRIPT (Speech Transcription)")
	b.WriteString(orPlaceholder(rec.TranscriptText, "No speech transcribed") + "\n\n")

	section(&b, lightRule, "DETECTED OBJECTS")
	if len(rec.DetectedObjects) > 0 {
		fmt.Fprintf(&b, "All Objects: %s\n", strings.Join(rec.DetectedObjects, ", "))
	} else {
		b.WriteString("No objects detected\n")
	}
	if len(rec.DetectedProducts) > 0 {
		fmt.Fprintf(&b, "Products Found: %s\n", strings.Join(rec.DetectedProducts, ", "))
	} else {
		b.WriteString("No products detected\n")
	}
	b.WriteString("\n")

	section(&b, lightRule, "HASHTAGS")
	if len(rec.Hashtags) > 0 {
		b.WriteString(strings.Join(rec.Hashtags, " ") + "\n")
	} else {
		b.WriteString("No hashtags\n")
	}
	return b.String()
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
