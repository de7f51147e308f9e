package extraction

import (
	"VideoScan-pipeline/internal/config"
	"VideoScan-pipeline/internal/storage"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"
)

const maxStderrInMessage = 2000

// CommandJob 以外部 worker 程序執行一種抽取工作 (Whisper、OCR、YOLO 等)。
// worker 由參數樣板取得輸入影片路徑與輸出目錄，將結果 JSON 寫到 stdout，
// 影格檔案寫到輸出目錄；CommandJob 再把它們上傳到 artifact store。
type CommandJob struct {
	kind      Kind
	command   string
	args      []string
	params    map[string]string
	artifacts storage.ArtifactStore

	// Env 會附加在目前的環境變數之後傳給 worker
	Env []string
}

// NewCommandJob 建立一個 CommandJob，params 提供 {model}、{confidence} 等額外樣板值
func NewCommandJob(kind Kind, cmdCfg config.CommandConfig, params map[string]string, artifacts storage.ArtifactStore) (*CommandJob, error) {
	if cmdCfg.Command == "" {
		return nil, fmt.Errorf("%s 工作未設定 command", kind)
	}
	if artifacts == nil {
		return nil, fmt.Errorf("ArtifactStore 不得為 nil")
	}
	switch kind {
	case KindTranscription, KindTextRecognition, KindDetection:
	default:
		return nil, fmt.Errorf("未知的抽取工作種類: %s", kind)
	}
	return &CommandJob{
		kind:      kind,
		command:   cmdCfg.Command,
		args:      cmdCfg.Args,
		params:    params,
		artifacts: artifacts,
	}, nil
}

// JobsFromConfig 依設定建立已設定 command 的工作，並回傳各自的逾時
func JobsFromConfig(jobsCfg config.JobsConfig, artifacts storage.ArtifactStore) ([]Job, map[Kind]time.Duration, error) {
	type entry struct {
		kind   Kind
		cmd    config.CommandConfig
		params map[string]string
	}
	entries := []entry{
		{KindTranscription, jobsCfg.Transcription, nil},
		{KindTextRecognition, jobsCfg.TextRecognition, nil},
		{KindDetection, jobsCfg.Detection.CommandConfig, map[string]string{
			"model":      jobsCfg.Detection.Model,
			"confidence": strconv.FormatFloat(jobsCfg.Detection.ConfidenceThreshold, 'f', -1, 64),
		}},
	}

	var jobs []Job
	timeouts := make(map[Kind]time.Duration)
	for _, e := range entries {
		if e.cmd.Command == "" {
			log.Printf("警告：%s 工作未設定 command，執行時將回報 not_configured。", e.kind)
			continue
		}
		job, err := NewCommandJob(e.kind, e.cmd, e.params, artifacts)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
		timeouts[e.kind] = e.cmd.Timeout
	}
	return jobs, timeouts, nil
}

func (j *CommandJob) Kind() Kind { return j.kind }

func (j *CommandJob) expandArgs(req Request, videoPath, outputDir string) []string {
	pairs := []string{
		"{video}", videoPath,
		"{video_id}", req.VideoID,
		"{output_dir}", outputDir,
		"{frame_interval}", strconv.FormatFloat(req.Sampling.FrameIntervalSecs, 'f', -1, 64),
		"{max_frames}", strconv.Itoa(req.Sampling.MaxFrames),
	}
	for k, v := range j.params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(j.args))
	for i, a := range j.args {
		out[i] = r.Replace(a)
	}
	return out
}

func (j *CommandJob) Execute(ctx context.Context, req Request) Outcome {
	data, err := req.Video.Open(ctx)
	if err != nil {
		return Failed(j.kind, FailureExecution, "%v", err)
	}

	workDir, err := os.MkdirTemp("", "videoscan-"+string(j.kind)+"-*")
	if err != nil {
		return Failed(j.kind, FailureExecution, "建立暫存目錄失敗: %v", err)
	}
	defer os.RemoveAll(workDir)

	ext := "mp4"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		ext = kind.Extension
	}
	videoPath := filepath.Join(workDir, "input."+ext)
	if err := os.WriteFile(videoPath, data, 0644); err != nil {
		return Failed(j.kind, FailureExecution, "寫入暫存影片失敗: %v", err)
	}
	outputDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Failed(j.kind, FailureExecution, "建立輸出目錄失敗: %v", err)
	}

	args := j.expandArgs(req, videoPath, outputDir)
	cmd := exec.CommandContext(ctx, j.command, args...)
	if len(j.Env) > 0 {
		cmd.Env = append(os.Environ(), j.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("資訊：[%s] 啟動 worker: %s %s", j.kind, j.command, strings.Join(args, " "))
	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Failed(j.kind, FailureTimeout, "worker 超過時限被終止")
		}
		return Failed(j.kind, FailureCancelled, "worker 已取消")
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderrInMessage {
			msg = msg[len(msg)-maxStderrInMessage:]
		}
		if msg != "" {
			return Failed(j.kind, FailureExecution, "worker 執行失敗: %v\nstderr: %s", runErr, msg)
		}
		return Failed(j.kind, FailureExecution, "worker 執行失敗: %v", runErr)
	}

	switch j.kind {
	case KindTranscription:
		return j.finishTranscription(ctx, req.VideoID, stdout.Bytes())
	case KindTextRecognition:
		return j.finishTextRecognition(ctx, req.VideoID, stdout.Bytes(), outputDir)
	default:
		return j.finishDetection(ctx, req.VideoID, stdout.Bytes(), outputDir)
	}
}

func (j *CommandJob) put(ctx context.Context, key string, data []byte, written *[]string) error {
	if err := j.artifacts.Put(ctx, key, data); err != nil {
		return err
	}
	*written = append(*written, key)
	return nil
}

func (j *CommandJob) finishTranscription(ctx context.Context, videoID string, raw []byte) Outcome {
	var res TranscriptionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Failed(j.kind, FailureConflict, "無法解析 worker 輸出: %v", err)
	}
	var written []string
	res.JSONObject = storage.ArtifactKey(videoID, storage.KindTranscript, "transcript.json")
	res.TXTObject = storage.ArtifactKey(videoID, storage.KindTranscript, "transcript.txt")
	if err := j.put(ctx, res.JSONObject, raw, &written); err != nil {
		return Failed(j.kind, FailureExecution, "上傳逐字稿 JSON 失敗: %v", err)
	}
	if err := j.put(ctx, res.TXTObject, []byte(res.Text), &written); err != nil {
		return Failed(j.kind, FailureExecution, "上傳逐字稿文字檔失敗: %v", err)
	}
	return Succeeded(j.kind, &res, written)
}

func (j *CommandJob) finishTextRecognition(ctx context.Context, videoID string, raw []byte, outputDir string) Outcome {
	var res TextRecognitionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Failed(j.kind, FailureConflict, "無法解析 worker 輸出: %v", err)
	}
	var written []string
	for i := range res.Frames {
		f := &res.Frames[i]
		key, err := j.uploadFrame(ctx, videoID, storage.KindFrames, outputDir, f.Filename, &written)
		if err != nil {
			return Failed(j.kind, FailureExecution, "上傳影格 '%s' 失敗: %v", f.Filename, err)
		}
		if key != "" {
			f.FrameObject = key
		}
	}
	res.JSONObject = storage.ArtifactKey(videoID, storage.KindOcr, "ocr.json")
	res.TXTObject = storage.ArtifactKey(videoID, storage.KindOcr, "ocr.txt")
	if err := j.put(ctx, res.JSONObject, raw, &written); err != nil {
		return Failed(j.kind, FailureExecution, "上傳 OCR JSON 失敗: %v", err)
	}
	if err := j.put(ctx, res.TXTObject, []byte(res.AllText), &written); err != nil {
		return Failed(j.kind, FailureExecution, "上傳 OCR 文字檔失敗: %v", err)
	}
	return Succeeded(j.kind, &res, written)
}

func (j *CommandJob) finishDetection(ctx context.Context, videoID string, raw []byte, outputDir string) Outcome {
	var res DetectionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Failed(j.kind, FailureConflict, "無法解析 worker 輸出: %v", err)
	}
	var written []string
	for i := range res.Frames {
		f := &res.Frames[i]
		key, err := j.uploadFrame(ctx, videoID, storage.KindDetectedFrames, outputDir, f.Filename, &written)
		if err != nil {
			return Failed(j.kind, FailureExecution, "上傳標註影格 '%s' 失敗: %v", f.Filename, err)
		}
		if key != "" {
			f.FrameObject = key
		}
	}
	res.JSONObject = storage.ArtifactKey(videoID, storage.KindDetections, "detections.json")
	if err := j.put(ctx, res.JSONObject, raw, &written); err != nil {
		return Failed(j.kind, FailureExecution, "上傳偵測 JSON 失敗: %v", err)
	}
	return Succeeded(j.kind, &res, written)
}

// uploadFrame 上傳 worker 寫在輸出目錄的影格；檔案不存在時只記錄警告並回傳空 key
func (j *CommandJob) uploadFrame(ctx context.Context, videoID string, kind storage.ArtifactKind, outputDir, filename string, written *[]string) (string, error) {
	if filename == "" {
		return "", nil
	}
	name := filepath.Base(filename)
	data, err := os.ReadFile(filepath.Join(outputDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("警告：[%s] worker 回報的影格 '%s' 不存在於輸出目錄，略過上傳。", j.kind, name)
			return "", nil
		}
		return "", err
	}
	key := storage.ArtifactKey(videoID, kind, name)
	if err := j.put(ctx, key, data, written); err != nil {
		return "", err
	}
	return key, nil
}
