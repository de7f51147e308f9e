package gemini

import (
	"VideoScan-pipeline/internal/aggregator"
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	defaultModel = "gemini-2.5-flash"
	// 單一欄位送進 prompt 的上限 (rune)
	maxFieldRunes = 6000
)

// contentGenerator 是 *genai.GenerativeModel 中用到的部分
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client 以 Gemini 產生影片內容摘要
type Client struct {
	sdk     *genai.Client
	model   contentGenerator
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClient 建立一個 Gemini 客戶端實例，requestsPerMinute <= 0 表示不限速
func NewClient(apiKey string, modelName string, requestsPerMinute int, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API Key 不得為空")
	}
	if modelName == "" {
		modelName = defaultModel
		log.Printf("警告：[Gemini Client] 未提供模型名稱，使用預設值: %s\n", modelName)
	}

	sdk, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("無法建立 Gemini GenAI SDK 客戶端: %w", err)
	}
	model := sdk.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{ResponseMIMEType: "text/plain"}
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemInstruction))
	log.Printf("資訊：[Gemini Client] 摘要模型 '%s' 初始化成功。\n", modelName)

	return &Client{
		sdk:     sdk,
		model:   model,
		limiter: newLimiter(requestsPerMinute),
		timeout: timeout,
	}, nil
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Close 釋放底層 SDK 連線
func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

const systemInstruction = "You summarize short-form social videos for a product analytics team. " +
	"Answer in plain text, at most five sentences, with no markdown."

// buildPrompt 將 OCR、逐字稿與偵測結果組成一段 prompt
func buildPrompt(in aggregator.SummaryInput) string {
	var b strings.Builder
	b.WriteString("Summarize what this video shows and which products it features.\n\n")
	if in.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", truncate(in.Title, maxFieldRunes))
	}
	fmt.Fprintf(&b, "Text on video (OCR): %s\n", orNone(truncate(in.TextOnVideo, maxFieldRunes)))
	fmt.Fprintf(&b, "Transcript: %s\n", orNone(truncate(in.Transcript, maxFieldRunes)))
	fmt.Fprintf(&b, "Detected objects: %s\n", orNone(strings.Join(in.DetectedObjects, ", ")))
	fmt.Fprintf(&b, "Detected products: %s\n", orNone(strings.Join(in.DetectedProducts, ", ")))
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// truncate 確保不會切割在 UTF-8 字元中間
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// Summarize 產生摘要；受 rate limiter 節流，空白或被阻擋的回應視為錯誤
func (c *Client) Summarize(ctx context.Context, in aggregator.SummaryInput) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("等待 Gemini 請求配額時中斷: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log.Printf("資訊：[Gemini Client] Summarize - 正在為影片 %s 向 Gemini API 發送請求...\n", in.VideoID)
	resp, err := c.model.GenerateContent(ctx, genai.Text(buildPrompt(in)))
	if err != nil {
		return "", fmt.Errorf("Gemini API 摘要 GenerateContent 失敗: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	log.Printf("資訊：[Gemini Client] Summarize - 影片 %s 摘要完成 (長度: %d)\n", in.VideoID, len(text))
	return text, nil
}

// responseText 取出第一個 candidate 的文字內容
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("Gemini API 摘要回應無效或為空 (nil response or no candidates)")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		if candidate.FinishReason != genai.FinishReasonStop && candidate.FinishReason != genai.FinishReasonUnspecified {
			for _, rating := range candidate.SafetyRatings {
				log.Printf("警告：[Gemini Client] 安全評級 - Category: %s, Probability: %s\n", rating.Category, rating.Probability)
			}
			return "", fmt.Errorf("Gemini API 摘要回應內容被阻止，原因: %s", candidate.FinishReason.String())
		}
		return "", fmt.Errorf("Gemini API 摘要回應無效或為空 (no content parts, FinishReason: %s)", candidate.FinishReason.String())
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		} else {
			log.Printf("警告：[Gemini Client] 收到非預期的 Part 類型: %T\n", part)
		}
	}
	text := strings.TrimSpace(strings.ToValidUTF8(sb.String(), ""))
	if text == "" {
		return "", fmt.Errorf("Gemini API 摘要回傳的內容為空")
	}
	return text, nil
}
