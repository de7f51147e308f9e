package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SchedulerConfig 控制定期補跑未完成影片的排程
type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	PipelineCronSpec string `mapstructure:"pipelineCronSpec"`
	BatchSize        int    `mapstructure:"batchSize"`
}

// Config 結構
type Config struct {
	AppName      string             `mapstructure:"appName"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Downloader   CommandConfig      `mapstructure:"downloader"`
	GeminiClient GeminiClientConfig `mapstructure:"geminiClient"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Server       ServerConfig       `mapstructure:"server"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbName"`
	SQLitePath string `mapstructure:"sqlitePath"`
}

// ArtifactsConfig 決定 Artifact 存放在本地 NAS 或 GCS bucket
type ArtifactsConfig struct {
	Driver   string `mapstructure:"driver"`
	BasePath string `mapstructure:"basePath"`
	Bucket   string `mapstructure:"bucket"`
}

// CommandConfig 描述一個外部 worker 程序 (推論容器或下載器)
type CommandConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SamplingConfig 是 OCR 與物件偵測共用的抽幀設定
type SamplingConfig struct {
	FrameIntervalSecs float64 `mapstructure:"frameIntervalSecs"`
	MaxFrames         int     `mapstructure:"maxFrames"`
}

type DetectionJobConfig struct {
	CommandConfig       `mapstructure:",squash"`
	Model               string  `mapstructure:"model"`
	ConfidenceThreshold float64 `mapstructure:"confidenceThreshold"`
}

type JobsConfig struct {
	Transcription   CommandConfig      `mapstructure:"transcription"`
	TextRecognition CommandConfig      `mapstructure:"textRecognition"`
	Detection       DetectionJobConfig `mapstructure:"detection"`
	Sampling        SamplingConfig     `mapstructure:"sampling"`
}

type GeminiClientConfig struct {
	APIKey            string        `mapstructure:"apiKey"`
	Model             string        `mapstructure:"model"`
	RequestsPerMinute int           `mapstructure:"requestsPerMinute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load 讀取設定檔、環境變數與預設值
func Load(configPath string, configName string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("警告：找不到設定檔，將使用預設值和環境變數。")
		} else {
			return nil, fmt.Errorf("讀取設定檔時發生錯誤: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("無法解析設定檔到結構: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.GeminiClient.APIKey == "" {
		fmt.Println("警告：Gemini API Key 未設定，報告將不含 AI 摘要。")
	}
	fmt.Println("資訊：設定載入成功。")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("appName", "VideoScan-Pipeline")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "video_scan")
	v.SetDefault("database.sqlitePath", "./data/video_scan.db")

	v.SetDefault("artifacts.driver", "nas")
	v.SetDefault("artifacts.basePath", "./data/artifacts")
	v.SetDefault("artifacts.bucket", "")

	// 預設值與原本各容器的環境變數一致：每 5 秒取一幀，最多 10 幀
	v.SetDefault("jobs.sampling.frameIntervalSecs", 5.0)
	v.SetDefault("jobs.sampling.maxFrames", 10)
	v.SetDefault("jobs.transcription.command", "")
	v.SetDefault("jobs.transcription.timeout", "15m")
	v.SetDefault("jobs.textRecognition.command", "")
	v.SetDefault("jobs.textRecognition.timeout", "10m")
	v.SetDefault("jobs.detection.command", "")
	v.SetDefault("jobs.detection.timeout", "10m")
	v.SetDefault("jobs.detection.model", "yolov8n.pt")
	v.SetDefault("jobs.detection.confidenceThreshold", 0.25)

	v.SetDefault("downloader.command", "")
	v.SetDefault("downloader.timeout", "5m")

	v.SetDefault("geminiClient.apiKey", "")
	v.SetDefault("geminiClient.model", "gemini-2.5-flash")
	v.SetDefault("geminiClient.requestsPerMinute", 10)
	v.SetDefault("geminiClient.timeout", "2m")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.pipelineCronSpec", "0 */10 * * * *")
	v.SetDefault("scheduler.batchSize", 5)

	v.SetDefault("server.addr", ":8080")
}

// Validate 檢查設定值的基本合法性
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("不支援的資料庫驅動程式: %s", c.Database.Driver)
	}
	switch c.Artifacts.Driver {
	case "nas":
		if c.Artifacts.BasePath == "" {
			return fmt.Errorf("artifacts.basePath 不得為空 (driver: nas)")
		}
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket 不得為空 (driver: gcs)")
		}
	default:
		return fmt.Errorf("不支援的 artifact 儲存驅動程式: %s", c.Artifacts.Driver)
	}
	if c.Jobs.Sampling.FrameIntervalSecs <= 0 {
		return fmt.Errorf("jobs.sampling.frameIntervalSecs 必須大於 0，目前為 %v", c.Jobs.Sampling.FrameIntervalSecs)
	}
	if c.Jobs.Sampling.MaxFrames <= 0 {
		return fmt.Errorf("jobs.sampling.maxFrames 必須大於 0，目前為 %d", c.Jobs.Sampling.MaxFrames)
	}
	if c.Jobs.Detection.ConfidenceThreshold < 0 || c.Jobs.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("jobs.detection.confidenceThreshold 必須介於 0 與 1 之間")
	}
	return nil
}
