package services

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/extraction"
	"VideoScan-pipeline/internal/models"
	"VideoScan-pipeline/internal/runner"
	"VideoScan-pipeline/internal/storage/nas"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeMP4 = append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00}, make([]byte, 64)...)

// TestHelperProcess 被 FetchService 當作下載器執行
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "missing helper args")
		os.Exit(2)
	}
	mode, outputDir, videoURL := args[1], args[2], args[3]

	switch mode {
	case "download":
		os.WriteFile(filepath.Join(outputDir, "clip.mp4"), fakeMP4, 0644)
		os.WriteFile(filepath.Join(outputDir, "clip.jpg"), []byte{0xFF, 0xD8, 0xFF, 0xE0}, 0644)
		os.WriteFile(filepath.Join(outputDir, "clip.info.json"), []byte(`{"id":"x"}`), 0644)
		fmt.Printf(`{"video_url":%q,"title":"Summer haul","description":"new in #Summer #SALE",`+
			`"channel":"shop","duration":12.5,"view_count":100,"upload_date":"20240131",`+
			`"video_file":"clip.mp4","thumbnail_file":"clip.jpg","info_file":"clip.info.json"}`, videoURL)
	case "notvideo":
		os.WriteFile(filepath.Join(outputDir, "clip.mp4"), []byte("plain text"), 0644)
		fmt.Print(`{"video_file":"clip.mp4"}`)
	case "escape":
		fmt.Print(`{"video_file":"../../etc/passwd"}`)
	case "fail":
		fmt.Fprintln(os.Stderr, "HTTP Error 404")
		os.Exit(1)
	}
	os.Exit(0)
}

type fakeVideoStore struct {
	mu      sync.Mutex
	videos  map[string]*models.Video
	pending []models.Video
	listErr error
}

func newFakeVideoStore(videos ...*models.Video) *fakeVideoStore {
	s := &fakeVideoStore{videos: make(map[string]*models.Video)}
	for _, v := range videos {
		s.videos[v.VideoID] = v
	}
	return s
}

func (s *fakeVideoStore) RegisterVideo(ctx context.Context, video *models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[video.VideoID] = video
	return nil
}

func (s *fakeVideoStore) GetVideoByVideoID(ctx context.Context, videoID string) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videos[videoID], nil
}

func (s *fakeVideoStore) GetVideoIDByURL(ctx context.Context, videoURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.videos {
		if v.VideoURL == videoURL {
			return id, nil
		}
	}
	return "", nil
}

func (s *fakeVideoStore) ListVideosMissingResults(ctx context.Context, limit int) ([]models.Video, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []extraction.Request
}

func (r *fakeRunner) Run(ctx context.Context, req extraction.Request) runner.RunResult {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return runner.NewRunResult(req.VideoID)
}

type fakeAggregator struct {
	failFor map[string]bool
	calls   []string
}

func (a *fakeAggregator) Aggregate(ctx context.Context, video *models.Video, rr runner.RunResult) (*aggregator.Result, error) {
	a.calls = append(a.calls, video.VideoID)
	if a.failFor[video.VideoID] {
		return nil, fmt.Errorf("%w: disk full", models.ErrStorageWrite)
	}
	return &aggregator.Result{VideoID: video.VideoID, Report: "report " + video.VideoID}, nil
}

func testVideo(id string) *models.Video {
	return &models.Video{VideoID: id, VideoURL: "https://example.com/v/" + id, VideoObject: id + "/video/" + id + ".mp4"}
}

func newPipeline(t *testing.T, videos *fakeVideoStore, r *fakeRunner, agg *fakeAggregator) *PipelineService {
	t.Helper()
	artifacts, err := nas.NewFileSystemStorage(config.ArtifactsConfig{Driver: "nas", BasePath: t.TempDir()})
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Jobs.Sampling = config.SamplingConfig{FrameIntervalSecs: 2, MaxFrames: 30}
	cfg.Scheduler.BatchSize = 2
	svc, err := NewPipelineService(cfg, videos, artifacts, r, agg)
	require.NoError(t, err)
	return svc
}

func TestPipelineService_Run(t *testing.T) {
	r := &fakeRunner{}
	agg := &fakeAggregator{}
	svc := newPipeline(t, newFakeVideoStore(testVideo("abc123")), r, agg)

	res, err := svc.Run(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "report abc123", res.Report)

	require.Len(t, r.reqs, 1)
	assert.Equal(t, "abc123/video/abc123.mp4", r.reqs[0].Video.Key)
	assert.Equal(t, 2.0, r.reqs[0].Sampling.FrameIntervalSecs)
	assert.Equal(t, 30, r.reqs[0].Sampling.MaxFrames)
}

func TestPipelineService_UpstreamMissingStartsNoJobs(t *testing.T) {
	r := &fakeRunner{}
	agg := &fakeAggregator{}
	noFile := testVideo("nofile")
	noFile.VideoObject = ""
	svc := newPipeline(t, newFakeVideoStore(noFile), r, agg)

	for _, id := range []string{"", "ghost", "nofile"} {
		_, err := svc.Run(context.Background(), id)
		assert.ErrorIs(t, err, models.ErrUpstreamMissing, "video %q", id)
	}
	_, err := svc.RunByURL(context.Background(), "https://example.com/v/unknown")
	assert.ErrorIs(t, err, models.ErrUpstreamMissing)

	assert.Empty(t, r.reqs)
	assert.Empty(t, agg.calls)
}

func TestPipelineService_RunByURL(t *testing.T) {
	agg := &fakeAggregator{}
	svc := newPipeline(t, newFakeVideoStore(testVideo("abc123")), &fakeRunner{}, agg)

	res, err := svc.RunByURL(context.Background(), "https://example.com/v/abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.VideoID)
}

func TestPipelineService_AggregationFailure(t *testing.T) {
	agg := &fakeAggregator{failFor: map[string]bool{"abc123": true}}
	svc := newPipeline(t, newFakeVideoStore(testVideo("abc123")), &fakeRunner{}, agg)

	_, err := svc.Run(context.Background(), "abc123")
	assert.ErrorIs(t, err, models.ErrStorageWrite)
}

func TestPipelineService_RunPending(t *testing.T) {
	videos := newFakeVideoStore(testVideo("a"), testVideo("b"), testVideo("c"))
	videos.pending = []models.Video{*testVideo("a"), *testVideo("b"), *testVideo("c")}
	agg := &fakeAggregator{failFor: map[string]bool{"a": true}}
	svc := newPipeline(t, videos, &fakeRunner{}, agg)

	done, err := svc.RunPending(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, []string{"a", "b"}, agg.calls, "batch size limits the sweep")
}

func TestPipelineService_RunPendingListError(t *testing.T) {
	videos := newFakeVideoStore()
	videos.listErr = errors.New("db down")
	svc := newPipeline(t, videos, &fakeRunner{}, &fakeAggregator{})

	_, err := svc.RunPending(context.Background())
	assert.Error(t, err)
}

func TestNewPipelineService_Validation(t *testing.T) {
	_, err := NewPipelineService(nil, newFakeVideoStore(), nil, nil, nil)
	assert.Error(t, err)
}

func newFetch(t *testing.T, mode string) (*FetchService, *fakeVideoStore, *nas.FileSystemStorage) {
	t.Helper()
	artifacts, err := nas.NewFileSystemStorage(config.ArtifactsConfig{Driver: "nas", BasePath: t.TempDir()})
	require.NoError(t, err)
	videos := newFakeVideoStore()
	svc, err := NewFetchService(config.CommandConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--", mode, "{output_dir}", "{url}"},
	}, videos, artifacts)
	require.NoError(t, err)
	svc.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return svc, videos, artifacts
}

func TestFetchService_Fetch(t *testing.T) {
	svc, videos, artifacts := newFetch(t, "download")
	ctx := context.Background()
	videoURL := "https://example.com/watch?v=1"

	video, err := svc.Fetch(ctx, videoURL)
	require.NoError(t, err)

	id := VideoIDForURL(videoURL)
	assert.Equal(t, id, video.VideoID)
	assert.Len(t, id, 32)
	assert.Equal(t, id+"/video/"+id+".mp4", video.VideoObject)
	assert.Equal(t, id+"/thumbnail/thumbnail.jpg", video.ThumbnailObject.String)
	assert.Equal(t, id+"/metadata/metadata.json", video.MetadataObject.String)
	assert.True(t, video.UploadDate.Valid)
	assert.Equal(t, "2024-01-31", video.UploadDate.Time.Format("2006-01-02"))
	assert.Equal(t, 12.5, video.DurationSecs)

	registered, _ := videos.GetVideoByVideoID(ctx, id)
	require.NotNil(t, registered)

	data, err := artifacts.Get(ctx, video.VideoObject)
	require.NoError(t, err)
	assert.Equal(t, fakeMP4, data)

	meta, err := artifacts.Get(ctx, video.MetadataObject.String)
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"#summer"`)
	assert.Contains(t, string(meta), `"#sale"`)

	_, err = artifacts.Get(ctx, id+"/metadata/info.json")
	assert.NoError(t, err)
}

func TestFetchService_Failures(t *testing.T) {
	tests := []struct {
		mode string
		want error
	}{
		{"fail", models.ErrJobExecution},
		{"notvideo", models.ErrUpstreamMissing},
		{"escape", models.ErrUpstreamMissing},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			svc, videos, _ := newFetch(t, tt.mode)
			_, err := svc.Fetch(context.Background(), "https://example.com/watch?v=2")
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, videos.videos)
		})
	}
}

func TestFetchService_RejectsInvalidURL(t *testing.T) {
	svc, _, _ := newFetch(t, "download")
	for _, u := range []string{"", "ftp://example.com/a", "not a url"} {
		_, err := svc.Fetch(context.Background(), u)
		assert.Error(t, err, u)
	}
}

func TestParseUploadDate(t *testing.T) {
	d, ok := parseUploadDate("20231225")
	require.True(t, ok)
	assert.Equal(t, 12, int(d.Month()))
	_, ok = parseUploadDate("2023")
	assert.False(t, ok)
	_, ok = parseUploadDate("2023xx25")
	assert.False(t, ok)
}
