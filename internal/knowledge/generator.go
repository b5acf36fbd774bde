package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// HistoryTurn 传给生成器的历史对话轮
type HistoryTurn struct {
	Role string
	Text string
}

// GenerationRequest 生成请求
type GenerationRequest struct {
	Query   string
	Context string
	History []HistoryTurn
}

// GenerationResult 生成结果
// Confidence 为模型自报置信度；部分后端不提供时 HasConfidence 为 false，
// 转人工决策退化为仅依赖检索置信度
type GenerationResult struct {
	Answer        string
	Confidence    float64
	HasConfidence bool
	Escalate      bool
}

// Generator 大语言模型生成接口
// 核心将模型视为不透明函数，重试与退避由调用方负责
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	Ready() bool
}

// NoopGenerator 默认占位实现
type NoopGenerator struct{}

func (n *NoopGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	return GenerationResult{}, apperrors.NewGeneratorError("llm provider not configured", nil)
}

func (n *NoopGenerator) Ready() bool {
	return false
}

const answerSystemPrompt = "You are an AI support agent for a company.\n" +
	"You must answer ONLY using the provided knowledge base context snippets.\n" +
	"If the answer is not clearly contained in the context, you MUST say you " +
	"don't know and set \"escalate_to_human\" to true.\n\n" +
	"Rules:\n" +
	"- Do NOT invent policies, prices, dates, or procedures.\n" +
	"- Prefer precise, concise responses.\n" +
	"- If multiple snippets disagree, mention that and escalate.\n\n" +
	"Return STRICT JSON with keys:\n" +
	"  - answer (string)\n" +
	"  - escalate_to_human (boolean)\n" +
	"  - confidence (number between 0 and 1)\n" +
	"Do not include markdown, code fences, or any text outside the JSON."

// 模型JSON解析失败时的兜底置信度
const fallbackConfidence = 0.7

// OpenAIGenerator 基于OpenAI Chat API的生成器
// 要求模型返回严格JSON {answer, escalate_to_human, confidence}
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator 创建OpenAI生成器
func NewOpenAIGenerator(apiKey, model string) Generator {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopGenerator{}
	}
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: 0.2,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	if g.client == nil {
		return GenerationResult{}, apperrors.NewGeneratorError("openai client not initialized", nil)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Knowledge base context:\n" + req.Context,
		})
	}

	var userContent strings.Builder
	userContent.WriteString("User question:\n")
	userContent.WriteString(req.Query)
	userContent.WriteString("\n\nUse only the provided context snippets to answer. " +
		"If the context is insufficient, escalate.")
	if history := formatHistory(req.History); history != "" {
		userContent.WriteString("\n\nRecent conversation history (for tone only, not facts):\n")
		userContent.WriteString(history)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userContent.String(),
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return GenerationResult{}, apperrors.NewGeneratorTimeout("openai chat completion timed out", err)
		}
		if ctx.Err() != nil {
			return GenerationResult{}, ctx.Err()
		}
		return GenerationResult{}, apperrors.NewGeneratorError("openai chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return GenerationResult{}, apperrors.NewGeneratorError("openai response contained no choices", nil)
	}

	return parseAnswerPayload(resp.Choices[0].Message.Content), nil
}

func (g *OpenAIGenerator) Ready() bool {
	return g.client != nil
}

type answerPayload struct {
	Answer          string  `json:"answer"`
	EscalateToHuman bool    `json:"escalate_to_human"`
	Confidence      float64 `json:"confidence"`
}

// parseAnswerPayload 解析模型输出的JSON
// 模型没有遵守JSON约定时回退为原始文本加默认置信度，而不是报错
func parseAnswerPayload(raw string) GenerationResult {
	var payload answerPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return GenerationResult{
			Answer:        raw,
			Confidence:    fallbackConfidence,
			HasConfidence: false,
			Escalate:      false,
		}
	}
	return GenerationResult{
		Answer:        payload.Answer,
		Confidence:    payload.Confidence,
		HasConfidence: true,
		Escalate:      payload.EscalateToHuman,
	}
}

// formatHistory 将历史轮次格式化为 User:/Assistant: 文本，仅保留最近几轮
func formatHistory(history []HistoryTurn) string {
	const maxTurns = 6
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		prefix := "Assistant"
		if turn.Role == "user" {
			prefix = "User"
		}
		lines = append(lines, prefix+": "+turn.Text)
	}
	return strings.Join(lines, "\n")
}
