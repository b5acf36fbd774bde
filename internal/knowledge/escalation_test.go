package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

func newTestGate(t *testing.T) *EscalationGate {
	t.Helper()
	gate, err := NewEscalationGate(0.3, 0.55, nil)
	require.NoError(t, err)
	return gate
}

// healthyInput 返回不会触发任何转人工条件的输入
func healthyInput() EscalationInput {
	return EscalationInput{
		Query:         "how long do refunds take",
		HasResults:    true,
		BestScore:     0.8,
		Confidence:    0.9,
		HasConfidence: true,
	}
}

func TestNewEscalationGate_InvalidConfig(t *testing.T) {
	_, err := NewEscalationGate(-0.1, 0.5, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = NewEscalationGate(0.3, 1.5, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = NewEscalationGate(0.3, 0.5, []string{"("})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
}

func TestEscalationGate_NoEscalation(t *testing.T) {
	gate := newTestGate(t)
	decision := gate.Decide(healthyInput())
	assert.False(t, decision.Escalate)
	assert.Equal(t, ReasonNone, decision.Reason)
}

func TestEscalationGate_NoContextFound(t *testing.T) {
	gate := newTestGate(t)
	input := healthyInput()
	input.HasResults = false

	decision := gate.Decide(input)
	assert.True(t, decision.Escalate)
	assert.Equal(t, ReasonNoContextFound, decision.Reason)
}

func TestEscalationGate_LowConfidence(t *testing.T) {
	gate := newTestGate(t)
	input := healthyInput()
	input.BestScore = 0.2

	decision := gate.Decide(input)
	assert.True(t, decision.Escalate)
	assert.Equal(t, ReasonLowConfidence, decision.Reason)
}

func TestEscalationGate_ModelSignal(t *testing.T) {
	gate := newTestGate(t)

	// 模型显式请求转人工
	input := healthyInput()
	input.Escalate = true
	decision := gate.Decide(input)
	assert.True(t, decision.Escalate)
	assert.Equal(t, ReasonModelSignal, decision.Reason)

	// 模型自报置信度低于阈值
	input = healthyInput()
	input.Confidence = 0.4
	decision = gate.Decide(input)
	assert.True(t, decision.Escalate)
	assert.Equal(t, ReasonModelSignal, decision.Reason)

	// 后端不提供置信度时不按置信度转人工
	input = healthyInput()
	input.Confidence = 0
	input.HasConfidence = false
	decision = gate.Decide(input)
	assert.False(t, decision.Escalate)
}

func TestEscalationGate_ExplicitRequest(t *testing.T) {
	gate := newTestGate(t)

	queries := []string{
		"I want to talk to a human",
		"can I speak with an agent please",
		"transfer me to support",
		"请帮我转人工",
	}
	for _, query := range queries {
		input := healthyInput()
		input.Query = query
		decision := gate.Decide(input)
		assert.True(t, decision.Escalate, "query: %s", query)
		assert.Equal(t, ReasonExplicitRequest, decision.Reason, "query: %s", query)
	}
}

func TestEscalationGate_ReasonOrder(t *testing.T) {
	gate := newTestGate(t)

	// 多个条件同时成立时，reason按固定顺序取首个命中项
	input := EscalationInput{
		Query:         "talk to a human now",
		HasResults:    false,
		BestScore:     0,
		Escalate:      true,
		Confidence:    0.1,
		HasConfidence: true,
	}
	decision := gate.Decide(input)
	assert.Equal(t, ReasonNoContextFound, decision.Reason)

	input.HasResults = true
	decision = gate.Decide(input)
	assert.Equal(t, ReasonLowConfidence, decision.Reason)

	input.BestScore = 0.9
	decision = gate.Decide(input)
	assert.Equal(t, ReasonModelSignal, decision.Reason)

	input.Escalate = false
	input.Confidence = 0.9
	decision = gate.Decide(input)
	assert.Equal(t, ReasonExplicitRequest, decision.Reason)
}

func TestEscalationGate_CustomPatterns(t *testing.T) {
	gate, err := NewEscalationGate(0.3, 0.55, []string{`(?i)\boperator\b`})
	require.NoError(t, err)

	input := healthyInput()
	input.Query = "get me an operator"
	decision := gate.Decide(input)
	assert.Equal(t, ReasonExplicitRequest, decision.Reason)

	// 覆盖配置后内置模式不再生效
	input.Query = "I want to talk to a human"
	decision = gate.Decide(input)
	assert.False(t, decision.Escalate)
}
