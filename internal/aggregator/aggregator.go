package aggregator

import (
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/runner"
	"VideoScan-pipeline/internal/storage"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// RecordStore 是 Aggregator 對資料庫的需求。
// beforeCommit 收到的是交易內讀回、即將提交的完整資料。
type RecordStore interface {
	CommitAggregation(ctx context.Context, graph *models.RecordGraph, beforeCommit func(*models.RecordGraph, *models.RecordCounts) error) (*models.RecordCounts, error)
	LoadRecordGraph(ctx context.Context, videoID string) (*models.RecordGraph, error)
}

// SummaryInput 是交給摘要服務的合併文字
type SummaryInput struct {
	VideoID          string
	Title            string
	TextOnVideo      string
	Transcript       string
	DetectedObjects  []string
	DetectedProducts []string
}

// Summarizer 為選用的 AI 摘要服務
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

// Result 是一次彙整提交後的結果
type Result struct {
	VideoID   string
	Counts    models.RecordCounts
	Stages    []StageStatus
	Record    *AggregatedRecord
	Report    string
	RecordKey string
	ReportKey string
}

// Aggregator 將 RunResult 合併進資料庫並產出報告
type Aggregator struct {
	store      RecordStore
	artifacts  storage.ArtifactStore
	summarizer Summarizer
	locks      *keyedMutex
	now        func() time.Time
}

// New summarizer 可為 nil
func New(store RecordStore, artifacts storage.ArtifactStore, summarizer Summarizer) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("RecordStore 不得為 nil")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("ArtifactStore 不得為 nil")
	}
	if summarizer == nil {
		log.Println("警告：[Aggregator] 未設定摘要服務，報告將不含 AI 摘要。")
	}
	return &Aggregator{
		store:      store,
		artifacts:  artifacts,
		summarizer: summarizer,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}, nil
}

// Aggregate 合併一次執行的結果。失敗或缺少的階段不會動到既有資料。
// 回傳錯誤表示交易未提交。
func (a *Aggregator) Aggregate(ctx context.Context, video *models.Video, rr runner.RunResult) (*Result, error) {
	if video == nil || video.VideoID == "" {
		return nil, fmt.Errorf("%w: 未提供影片資料", models.ErrUpstreamMissing)
	}
	videoID := video.VideoID

	unlock := a.locks.Lock(videoID)
	defer unlock()

	now := a.now()
	graph := &models.RecordGraph{VideoID: videoID}
	stages := make([]StageStatus, 0, len(rr.Kinds()))

	for _, kind := range rr.Kinds() {
		stage := StageStatus{Kind: kind}
		if err := a.mergeOutcome(graph, rr.Get(kind), now); err != nil {
			stage.Reason = err.Error()
			log.Printf("警告：[Aggregator] 影片 %s 的 %s 群組維持不變: %s", videoID, kind, stage.Reason)
		} else {
			stage.Succeeded = true
			log.Printf("資訊：[Aggregator] 影片 %s 的 %s 群組將被替換。", videoID, kind)
		}
		stages = append(stages, stage)
	}

	graph.Hashtags = mergeHashtags(a.declaredHashtags(ctx, video), extractedHashtags(graph))

	// 摘要在交易外產生，內容以「既有資料 + 本次替換的群組」預估
	summary := ""
	if a.summarizer != nil {
		summary = a.summarize(ctx, a.buildRecord(video, a.previewGraph(ctx, graph), stages, now))
	}

	result := &Result{
		VideoID:   videoID,
		Stages:    stages,
		RecordKey: storage.ArtifactKey(videoID, storage.KindAggregated, "aggregated.json"),
		ReportKey: storage.ArtifactKey(videoID, storage.KindAggregated, "report.txt"),
	}

	// 報告依交易內讀回的資料產生，與資料庫內容一致；寫入失敗會讓整個交易回滾
	counts, err := a.store.CommitAggregation(ctx, graph, func(committed *models.RecordGraph, c *models.RecordCounts) error {
		rec := a.buildRecord(video, committed, stages, now)
		rec.AISummary = summary
		rec.Counts = *c
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化彙整結果失敗: %w", err)
		}
		report := RenderReport(rec)
		if err := a.artifacts.Put(ctx, result.RecordKey, data); err != nil {
			return fmt.Errorf("寫入 %s 失敗: %w", result.RecordKey, err)
		}
		if err := a.artifacts.Put(ctx, result.ReportKey, []byte(report)); err != nil {
			return fmt.Errorf("寫入 %s 失敗: %w", result.ReportKey, err)
		}
		result.Record = rec
		result.Report = report
		return nil
	})
	if err != nil {
		log.Printf("錯誤：[Aggregator] 影片 %s 的彙整交易未提交: %v", videoID, err)
		return nil, err
	}
	result.Counts = *counts
	log.Printf("資訊：[Aggregator] 影片 %s 彙整完成：hashtag %d、逐字稿片段 %d、OCR 影格 %d、偵測框 %d。",
		videoID, counts.Hashtags, counts.TranscriptSegments, counts.OcrFrames, counts.DetectionDetails)
	return result, nil
}

// buildRecord 由一份完整的 record graph 組出結構化結果
func (a *Aggregator) buildRecord(video *models.Video, g *models.RecordGraph, stages []StageStatus, now time.Time) *AggregatedRecord {
	rec := &AggregatedRecord{
		VideoID:          video.VideoID,
		VideoURL:         video.VideoURL,
		Title:            video.Title.String,
		ProcessedAt:      now,
		DetectedObjects:  detectedObjects(g.Detection),
		DetectedProducts: productNames(g.Detection),
		Hashtags:         g.Hashtags,
		Stages:           stages,
	}
	if rec.Hashtags == nil {
		rec.Hashtags = []string{}
	}
	if g.Ocr != nil {
		rec.TextOnVideo = textOnVideo(g.Ocr.AllText)
	}
	if g.Transcript != nil {
		rec.TranscriptText = g.Transcript.Text
		rec.TranscriptLanguage = g.Transcript.Language
	}
	return rec
}

// previewGraph 以本次的群組覆蓋已提交的資料；讀取失敗時只用本次的群組
func (a *Aggregator) previewGraph(ctx context.Context, graph *models.RecordGraph) *models.RecordGraph {
	stored, err := a.store.LoadRecordGraph(ctx, graph.VideoID)
	if err != nil {
		log.Printf("警告：[Aggregator] 讀取影片 %s 的既有資料失敗: %v", graph.VideoID, err)
	}
	if stored == nil {
		return graph
	}
	preview := *stored
	if graph.Transcript != nil {
		preview.Transcript = graph.Transcript
	}
	if graph.Ocr != nil {
		preview.Ocr = graph.Ocr
	}
	if graph.Detection != nil {
		preview.Detection = graph.Detection
	}
	preview.Hashtags = mergeHashtags(stored.Hashtags, graph.Hashtags)
	return &preview
}

// mergeOutcome 將成功的結果放入 graph；回傳錯誤表示該群組不動
func (a *Aggregator) mergeOutcome(graph *models.RecordGraph, o extraction.Outcome, now time.Time) error {
	if !o.Success() {
		if o.Failure != nil {
			return o.Failure
		}
		return fmt.Errorf("%w: 沒有結果", models.ErrJobExecution)
	}
	var err error
	switch o.Kind {
	case extraction.KindTranscription:
		res, ok := o.Result.(*extraction.TranscriptionResult)
		if !ok {
			return conflictf("預期逐字稿結果，得到 %T", o.Result)
		}
		graph.Transcript, err = mapTranscript(graph.VideoID, res, now)
	case extraction.KindTextRecognition:
		res, ok := o.Result.(*extraction.TextRecognitionResult)
		if !ok {
			return conflictf("預期 OCR 結果，得到 %T", o.Result)
		}
		graph.Ocr, err = mapOcr(graph.VideoID, res, now)
	case extraction.KindDetection:
		res, ok := o.Result.(*extraction.DetectionResult)
		if !ok {
			return conflictf("預期物件偵測結果，得到 %T", o.Result)
		}
		graph.Detection, err = mapDetection(graph.VideoID, res, now)
	default:
		return conflictf("未知的工作種類 %s", o.Kind)
	}
	return err
}

type downloadMetadata struct {
	Hashtags []string `json:"hashtags"`
}

// declaredHashtags 來自影片描述與下載時寫入的 metadata artifact
func (a *Aggregator) declaredHashtags(ctx context.Context, video *models.Video) []string {
	tags := ExtractHashtags(video.Description.String)
	if !video.MetadataObject.Valid || video.MetadataObject.String == "" {
		return tags
	}
	data, err := a.artifacts.Get(ctx, video.MetadataObject.String)
	if err != nil {
		if !errors.Is(err, storage.ErrArtifactNotFound) {
			log.Printf("警告：[Aggregator] 讀取影片 %s 的 metadata 失敗: %v", video.VideoID, err)
		}
		return tags
	}
	var meta downloadMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Printf("警告：[Aggregator] 解析影片 %s 的 metadata 失敗: %v", video.VideoID, err)
		return tags
	}
	return append(tags, meta.Hashtags...)
}

func extractedHashtags(graph *models.RecordGraph) []string {
	var tags []string
	if graph.Transcript != nil {
		tags = append(tags, ExtractHashtags(graph.Transcript.Text)...)
	}
	if graph.Ocr != nil {
		for _, f := range graph.Ocr.Frames {
			tags = append(tags, ExtractHashtags(f.OcrText)...)
		}
	}
	return tags
}

// summarize 在交易開始前呼叫；失敗不影響彙整
func (a *Aggregator) summarize(ctx context.Context, rec *AggregatedRecord) string {
	if a.summarizer == nil {
		return ""
	}
	if rec.TextOnVideo == "" && rec.TranscriptText == "" && len(rec.DetectedObjects) == 0 {
		return summaryUnavailable
	}
	summary, err := a.summarizer.Summarize(ctx, SummaryInput{
		VideoID:          rec.VideoID,
		Title:            rec.Title,
		TextOnVideo:      rec.TextOnVideo,
		Transcript:       rec.TranscriptText,
		DetectedObjects:  rec.DetectedObjects,
		DetectedProducts: rec.DetectedProducts,
	})
	if err != nil || summary == "" {
		log.Printf("警告：[Aggregator] 影片 %s 的 AI 摘要失敗: %v", rec.VideoID, err)
		return summaryUnavailable
	}
	return summary
}

// keyedMutex 讓同一支影片的彙整不會交錯
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
