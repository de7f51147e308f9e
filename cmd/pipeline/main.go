// pipeline 對單支影片執行一次 抽取 → 彙整，並把文字報告印到 stdout。
//
//	pipeline -config ./configs -video-id abc123
//	pipeline -config ./configs -url https://... -fetch
//
// 結束碼：0 彙整已提交；1 彙整或儲存失敗、影片不存在；2 參數錯誤。
package main

import (
	"VideoScan-pipeline/internal/aggregator"
	"VideoScan-pipeline/internal/bootstrap"
	"VideoScan-pipeline/internal/config"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type options struct {
	configPath string
	configName string
	videoID    string
	videoURL   string
	fetch      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "./configs", "設定檔目錄")
	fs.StringVar(&opts.configName, "config-name", "config", "設定檔名稱 (不含副檔名)")
	fs.StringVar(&opts.videoID, "video-id", "", "要處理的 video_id")
	fs.StringVar(&opts.videoURL, "url", "", "要處理的影片網址")
	fs.BoolVar(&opts.fetch, "fetch", false, "先以下載器下載 -url 指定的影片")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("多餘的參數: %v", fs.Args())
	}
	if (opts.videoID == "") == (opts.videoURL == "") {
		return nil, fmt.Errorf("必須指定 -video-id 或 -url 其中之一")
	}
	if opts.fetch && opts.videoURL == "" {
		return nil, fmt.Errorf("-fetch 需要搭配 -url")
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(stderr)

	opts, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "錯誤：%v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath, opts.configName)
	if err != nil {
		fmt.Fprintf(stderr, "錯誤：無法載入設定: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Printf("錯誤：初始化失敗: %v", err)
		return exitFailure
	}
	defer components.Close()

	videoID := opts.videoID
	if opts.fetch {
		if components.Fetch == nil {
			fmt.Fprintln(stderr, "錯誤：未設定 downloader.command，無法使用 -fetch")
			return exitUsage
		}
		video, err := components.Fetch.Fetch(ctx, opts.videoURL)
		if err != nil {
			log.Printf("錯誤：下載影片失敗: %v", err)
			return exitFailure
		}
		videoID = video.VideoID
	}

	var result *aggregator.Result
	if videoID != "" {
		result, err = components.Pipeline.Run(ctx, videoID)
	} else {
		result, err = components.Pipeline.RunByURL(ctx, opts.videoURL)
	}
	if err != nil {
		log.Printf("錯誤：%v", err)
		return exitFailure
	}
	fmt.Fprint(stdout, result.Report)
	return exitOK
}
