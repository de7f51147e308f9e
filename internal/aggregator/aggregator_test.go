package aggregator

import (
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/runner"
	"VideoScan-pipeline/internal/storage"
	"VideoScan-pipeline/internal/storage/nas"
	"VideoScan-pipeline/internal/storage/sqldb"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store     *sqldb.SQLStore
	artifacts *nas.FileSystemStorage
	video     *models.Video
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	dbCfg := config.DatabaseConfig{Driver: "sqlite3", SQLitePath: filepath.Join(dir, "pipeline.db")}
	require.NoError(t, sqldb.Migrate(dbCfg))
	store, err := sqldb.NewSQLStore(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	artifacts, err := nas.NewFileSystemStorage(config.ArtifactsConfig{Driver: "nas", BasePath: filepath.Join(dir, "artifacts")})
	require.NoError(t, err)

	ctx := context.Background()
	metaKey := storage.ArtifactKey("abc123", storage.KindMetadata, "abc123.info.json")
	require.NoError(t, artifacts.Put(ctx, metaKey, []byte(`{"hashtags":["Fashion","#sale"]}`)))

	video := &models.Video{
		VideoID:        "abc123",
		VideoURL:       "https://example.com/v/abc123",
		Title:          models.NewJsonNullString("Summer haul"),
		Description:    models.NewJsonNullString("new arrivals #Summer #sale"),
		VideoObject:    storage.ArtifactKey("abc123", storage.KindVideo, "abc123.mp4"),
		MetadataObject: models.NewJsonNullString(metaKey),
	}
	require.NoError(t, store.RegisterVideo(ctx, video))
	return testEnv{store: store, artifacts: artifacts, video: video}
}

func transcriptOutcome() extraction.Outcome {
	return extraction.Succeeded(extraction.KindTranscription, &extraction.TranscriptionResult{
		Text:     "hello everyone",
		Language: "en",
		Segments: []extraction.TranscriptSegment{{Start: 0, End: 2.5, Text: "hello everyone"}},
	}, nil)
}

func ocrOutcome() extraction.Outcome {
	return extraction.Succeeded(extraction.KindTextRecognition, &extraction.TextRecognitionResult{
		TotalFrames:    2,
		FramesWithText: 2,
		Frames: []extraction.OcrFrame{
			{FrameNumber: 0, Timestamp: 0, Filename: "frame_0000_0.00s.jpg", OcrText: "SALE"},
			{FrameNumber: 1, Timestamp: 5, Filename: "frame_0001_5.00s.jpg", OcrText: "50% OFF #deal"},
		},
	}, nil)
}

func detectionOutcome(products ...string) extraction.Outcome {
	return extraction.Succeeded(extraction.KindDetection, &extraction.DetectionResult{
		Model:                "yolov8n.pt",
		ConfidenceThreshold:  0.25,
		TotalFramesProcessed: 1,
		TotalDetections:      2,
		DetectedProducts:     products,
		Frames: []extraction.DetectionFrame{{
			FrameNumber:     0,
			Timestamp:       0,
			TotalDetections: 2,
			Detections: []extraction.Detection{
				{ClassID: 0, ClassName: "person", Confidence: 0.91, BBox: extraction.BBox{X1: 1, Y1: 2, X2: 30, Y2: 40}},
				{ClassID: 7, ClassName: "handbag", Confidence: 0.66, BBox: extraction.BBox{X1: 5, Y1: 6, X2: 7, Y2: 8}},
			},
		}},
	}, nil)
}

func fullRun() runner.RunResult {
	return runner.NewRunResult("abc123", transcriptOutcome(), ocrOutcome(), detectionOutcome("handbag"))
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	s.calls++
	return s.summary, s.err
}

// failingArtifacts 讓特定 key 的寫入失敗
type failingArtifacts struct {
	storage.ArtifactStore
	failKey string
}

func (f failingArtifacts) Put(ctx context.Context, key string, data []byte) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.ArtifactStore.Put(ctx, key, data)
}

func TestNew_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, err := New(nil, env.artifacts, nil)
	assert.Error(t, err)
	_, err = New(env.store, nil, nil)
	assert.Error(t, err)
}

func TestAggregate_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Counts.TranscriptSegments)
	assert.Equal(t, 2, res.Counts.OcrFrames)
	assert.Equal(t, 2, res.Counts.OcrFramesWithText)
	assert.Equal(t, 1, res.Counts.DetectionFrames)
	assert.Equal(t, 2, res.Counts.DetectionDetails)
	assert.Equal(t, 1, res.Counts.DetectedProducts)
	assert.Equal(t, []string{"#deal", "#fashion", "#sale", "#summer"}, res.Record.Hashtags)

	for _, s := range res.Stages {
		assert.True(t, s.Succeeded, "stage %s", s.Kind)
	}
	assert.Contains(t, res.Report, "transcription     succeeded (1 segments)")
	assert.Contains(t, res.Report, "text_recognition  succeeded (2 frames, 2 with text)")
	assert.Contains(t, res.Report, "detection         succeeded (1 frames, 2 detections, 1 products)")
	assert.Contains(t, res.Report, "All Objects: handbag, person")
	assert.Contains(t, res.Report, "Products Found: handbag")
	assert.Contains(t, res.Report, "SALE 50% OFF #deal")
	assert.NotContains(t, res.Report, "AI SUMMARY")

	report, err := env.artifacts.Get(ctx, res.ReportKey)
	require.NoError(t, err)
	assert.Equal(t, res.Report, string(report))
	assert.Equal(t, "abc123/aggregated/report.txt", res.ReportKey)

	record, err := env.artifacts.Get(ctx, res.RecordKey)
	require.NoError(t, err)
	assert.Contains(t, string(record), `"whisper_content": "hello everyone"`)
}

func TestAggregate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)
	second, err := agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)
	assert.Equal(t, first.Counts, second.Counts)

	counts, err := env.store.CountRecords(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, first.Counts, *counts)
}

func TestAggregate_PartialFailureKeepsPreviousGroup(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)

	partial := runner.NewRunResult("abc123",
		extraction.Failed(extraction.KindTranscription, extraction.FailureTimeout, "逾時"),
		ocrOutcome(),
		extraction.Failed(extraction.KindDetection, extraction.FailureExecution, "exit status 1"),
	)
	res, err := agg.Aggregate(ctx, env.video, partial)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Counts.TranscriptSegments)
	assert.Equal(t, 2, res.Counts.DetectionDetails)
	assert.False(t, res.Stages[0].Succeeded)
	assert.True(t, res.Stages[1].Succeeded)
	assert.Contains(t, res.Report, "transcription     failed: timeout")
	assert.Contains(t, res.Report, "detection         failed: execution")
}

func TestAggregate_FailedRerunReportsStoredRows(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)

	failed := runner.NewRunResult("abc123",
		extraction.Failed(extraction.KindTranscription, extraction.FailureTimeout, "逾時"),
		extraction.Failed(extraction.KindTextRecognition, extraction.FailureTimeout, "逾時"),
		extraction.Failed(extraction.KindDetection, extraction.FailureTimeout, "逾時"),
	)
	res, err := agg.Aggregate(ctx, env.video, failed)
	require.NoError(t, err)

	stored, err := env.store.LoadRecordGraph(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, stored.Transcript)
	require.NotNil(t, stored.Ocr)
	require.NotNil(t, stored.Detection)

	assert.Equal(t, stored.Hashtags, res.Record.Hashtags)
	assert.Len(t, res.Record.Hashtags, res.Counts.Hashtags)
	assert.Equal(t, stored.Transcript.Text, res.Record.TranscriptText)
	assert.Equal(t, "SALE 50% OFF #deal", res.Record.TextOnVideo)
	assert.Equal(t, []string{"handbag", "person"}, res.Record.DetectedObjects)
	assert.Equal(t, []string{"handbag"}, res.Record.DetectedProducts)
	assert.Contains(t, res.Report, "hello everyone")
	assert.Contains(t, res.Report, "All Objects: handbag, person")
	assert.Contains(t, res.Report, "transcription     failed: timeout")

	data, err := env.artifacts.Get(ctx, res.RecordKey)
	require.NoError(t, err)
	var record AggregatedRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, stored.Hashtags, record.Hashtags)
	assert.Equal(t, "hello everyone", record.TranscriptText)
	assert.Equal(t, []string{"handbag"}, record.DetectedProducts)
}

func TestAggregate_ConcurrentRunsMatchSingleRun(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	single, err := agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Aggregate(ctx, env.video, fullRun())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := env.store.CountRecords(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, single.Counts, *counts)

	data, err := env.artifacts.Get(ctx, single.RecordKey)
	require.NoError(t, err)
	var record AggregatedRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, single.Counts, record.Counts)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	otherKey := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(otherKey)
	}()
	select {
	case <-otherKey:
	case <-time.After(time.Second):
		t.Fatal("a different key should not wait")
	}

	sameKey := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(sameKey)
	}()
	select {
	case <-sameKey:
		t.Fatal("the same key must wait for unlock")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	select {
	case <-sameKey:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks, "entries are removed once no one holds them")
}

func TestAggregate_ForeignFrameKeyIsConflict(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)

	foreign := extraction.Succeeded(extraction.KindTextRecognition, &extraction.TextRecognitionResult{
		Frames: []extraction.OcrFrame{
			{FrameNumber: 0, Timestamp: 0, OcrText: "SALE", FrameObject: "zzz999/frames/frame_0000_0.00s.jpg"},
		},
	}, nil)
	res, err := agg.Aggregate(context.Background(), env.video, runner.NewRunResult("abc123", foreign))
	require.NoError(t, err)

	var ocr StageStatus
	for _, s := range res.Stages {
		if s.Kind == extraction.KindTextRecognition {
			ocr = s
		}
	}
	assert.False(t, ocr.Succeeded)
	assert.Contains(t, ocr.Reason, models.ErrAggregationConflict.Error())
	assert.False(t, res.Counts.HasOcr)
}

func TestAggregate_ProductsAreCaseSensitiveSet(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)

	rr := runner.NewRunResult("abc123", detectionOutcome("shirt", "Shirt", "shirt"))
	res, err := agg.Aggregate(context.Background(), env.video, rr)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Counts.DetectedProducts)
	assert.Equal(t, []string{"shirt", "Shirt"}, res.Record.DetectedProducts)
}

func TestAggregate_ConflictLeavesGroupUntouched(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)

	bad := extraction.Succeeded(extraction.KindTranscription, &extraction.TranscriptionResult{
		Text:     "broken",
		Segments: []extraction.TranscriptSegment{{Start: 5, End: 1, Text: "broken"}},
	}, nil)
	res, err := agg.Aggregate(ctx, env.video, runner.NewRunResult("abc123", bad))
	require.NoError(t, err)
	assert.False(t, res.Stages[0].Succeeded)
	assert.True(t, strings.Contains(res.Stages[0].Reason, models.ErrAggregationConflict.Error()))

	graph, err := env.store.LoadRecordGraph(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, graph.Transcript)
	assert.Equal(t, "hello everyone", graph.Transcript.Text)
}

func TestAggregate_ArtifactWriteFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	failing := failingArtifacts{ArtifactStore: env.artifacts, failKey: "abc123/aggregated/report.txt"}
	agg, err := New(env.store, failing, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agg.Aggregate(ctx, env.video, fullRun())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStorageWrite)

	counts, err := env.store.CountRecords(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, counts.HasTranscript)
	assert.Zero(t, counts.Hashtags)
	assert.Zero(t, counts.DetectionDetails)
}

func TestAggregate_UnknownVideo(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)

	ghost := &models.Video{VideoID: "ghost", VideoURL: "https://example.com/v/ghost"}
	_, err = agg.Aggregate(context.Background(), ghost, fullRun())
	assert.ErrorIs(t, err, models.ErrUpstreamMissing)

	_, err = agg.Aggregate(context.Background(), nil, fullRun())
	assert.ErrorIs(t, err, models.ErrUpstreamMissing)
}

func TestAggregate_Summary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok := &stubSummarizer{summary: "A summer fashion haul."}
	agg, err := New(env.store, env.artifacts, ok)
	require.NoError(t, err)
	res, err := agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)
	assert.Equal(t, 1, ok.calls)
	assert.Contains(t, res.Report, "AI SUMMARY")
	assert.Contains(t, res.Report, "A summer fashion haul.")

	broken := &stubSummarizer{err: errors.New("quota exceeded")}
	agg, err = New(env.store, env.artifacts, broken)
	require.NoError(t, err)
	res, err = agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)
	assert.Equal(t, summaryUnavailable, res.Record.AISummary)
	assert.Contains(t, res.Report, summaryUnavailable)
}

func TestAggregate_DeleteVideoCascades(t *testing.T) {
	env := newTestEnv(t)
	agg, err := New(env.store, env.artifacts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agg.Aggregate(ctx, env.video, fullRun())
	require.NoError(t, err)
	require.NoError(t, env.store.DeleteVideo(ctx, "abc123"))

	counts, err := env.store.CountRecords(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.RecordCounts{}, *counts)
}
