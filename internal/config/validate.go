package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate 校验配置合法性
// 配置错误是致命的，进程在启动阶段失败而不是带病运行
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range errs {
				return fmt.Errorf("invalid config: field %s failed rule %s",
					fieldErr.Namespace(), fieldErr.Tag())
			}
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid config: kafka enabled but no brokers configured")
	}
	if cfg.Knowledge.Embedding.Provider == "openai" && cfg.AI.OpenAIAPIKey == "" {
		return fmt.Errorf("invalid config: openai embedding requires OPENAI_API_KEY")
	}
	if cfg.Knowledge.VectorStore.Provider == "milvus" && cfg.Knowledge.VectorStore.Milvus.Address == "" {
		return fmt.Errorf("invalid config: milvus vector store requires an address")
	}
	return nil
}

// LoadAndValidate 加载并校验配置
func LoadAndValidate() error {
	if err := LoadConfig(); err != nil {
		return err
	}
	return Validate(AppConfig)
}
