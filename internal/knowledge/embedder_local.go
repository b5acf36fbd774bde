package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// LocalEmbedder 本地词袋哈希向量化实现
// 不依赖外部服务，按词哈希到固定维度后做L2归一化
// 质量低于模型向量，用于离线部署与测试环境
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder 创建本地向量化器
func NewLocalEmbedder(dimensions int) (*LocalEmbedder, error) {
	if dimensions <= 0 {
		return nil, apperrors.NewInvalidConfig("local embedder: dimensions must be positive")
	}
	return &LocalEmbedder{dimensions: dimensions}, nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, e.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vector[int(h.Sum32())%e.dimensions]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *LocalEmbedder) Ready() bool {
	return true
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
