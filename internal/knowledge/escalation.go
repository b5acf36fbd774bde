package knowledge

import (
	"regexp"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// EscalationReason 转人工原因
type EscalationReason string

const (
	ReasonNone            EscalationReason = ""
	ReasonNoContextFound  EscalationReason = "no_context_found"
	ReasonLowConfidence   EscalationReason = "low_confidence"
	ReasonModelSignal     EscalationReason = "model_signal"
	ReasonExplicitRequest EscalationReason = "explicit_request"
)

// EscalationDecision 转人工决策
type EscalationDecision struct {
	Escalate bool             `json:"escalate"`
	Reason   EscalationReason `json:"reason,omitempty"`
}

// EscalationInput 决策输入，由流水线汇总检索与生成两侧的信号
type EscalationInput struct {
	Query         string
	HasResults    bool
	BestScore     float64
	Escalate      bool
	Confidence    float64
	HasConfidence bool
}

// 用户明确要求人工服务的默认匹配模式，可被配置覆盖
var defaultHumanRequestPatterns = []string{
	`(?i)\b(talk|speak|chat)\s+(to|with)\s+(a\s+)?(human|person|agent|representative|someone)\b`,
	`(?i)\b(human|live|real)\s+(agent|person|support|representative)\b`,
	`(?i)\btransfer\s+me\b`,
	`人工客服`,
	`转人工`,
}

// EscalationGate 转人工决策器
// 纯函数式判定，自身不持久化任何状态
type EscalationGate struct {
	minScore            float64
	confidenceThreshold float64
	humanPatterns       []*regexp.Regexp
}

// NewEscalationGate 创建转人工决策器
// minScore 为检索置信度阈值；confidenceThreshold 为模型自报置信度阈值；
// patterns 为空时使用内置模式
func NewEscalationGate(minScore, confidenceThreshold float64, patterns []string) (*EscalationGate, error) {
	if minScore < 0 || minScore > 1 {
		return nil, apperrors.NewInvalidConfig("escalation gate: min_score must be in [0, 1]")
	}
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		return nil, apperrors.NewInvalidConfig("escalation gate: confidence_threshold must be in [0, 1]")
	}
	if len(patterns) == 0 {
		patterns = defaultHumanRequestPatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, apperrors.NewInvalidConfig("escalation gate: invalid human request pattern: " + pattern)
		}
		compiled = append(compiled, re)
	}

	return &EscalationGate{
		minScore:            minScore,
		confidenceThreshold: confidenceThreshold,
		humanPatterns:       compiled,
	}, nil
}

// MinScore 返回检索置信度阈值
func (g *EscalationGate) MinScore() float64 {
	return g.minScore
}

// Decide 产出转人工决策
// 条件按固定顺序求值，首个命中的条件决定reason；任一条件独立成立都会转人工：
//  1. 检索结果为空 → no_context_found
//  2. 最佳检索得分低于阈值 → low_confidence
//  3. 模型显式请求转人工，或模型自报置信度低于阈值 → model_signal
//  4. 查询文本明确要求人工服务 → explicit_request
func (g *EscalationGate) Decide(input EscalationInput) EscalationDecision {
	if !input.HasResults {
		return EscalationDecision{Escalate: true, Reason: ReasonNoContextFound}
	}
	if input.BestScore < g.minScore {
		return EscalationDecision{Escalate: true, Reason: ReasonLowConfidence}
	}
	if input.Escalate || (input.HasConfidence && input.Confidence < g.confidenceThreshold) {
		return EscalationDecision{Escalate: true, Reason: ReasonModelSignal}
	}
	for _, re := range g.humanPatterns {
		if re.MatchString(input.Query) {
			return EscalationDecision{Escalate: true, Reason: ReasonExplicitRequest}
		}
	}
	return EscalationDecision{}
}
