package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, LoadConfig())
	require.NotNil(t, AppConfig)

	assert.Equal(t, "8000", AppConfig.Server.Port)
	assert.Equal(t, "development", AppConfig.Server.Env)
	assert.Equal(t, 500, AppConfig.Knowledge.ChunkSize)
	assert.Equal(t, 50, AppConfig.Knowledge.ChunkOverlap)
	assert.Equal(t, 5, AppConfig.Knowledge.TopK)
	assert.InDelta(t, 0.35, AppConfig.Knowledge.MinScore, 1e-9)
	assert.InDelta(t, 0.55, AppConfig.Knowledge.Escalation.ConfidenceThreshold, 1e-9)
	assert.Equal(t, "memory", AppConfig.Knowledge.VectorStore.Provider)
	assert.Equal(t, "local", AppConfig.Knowledge.Embedding.Provider)
	assert.Equal(t, 1536, AppConfig.Knowledge.Embedding.Dimensions)
	assert.False(t, AppConfig.Kafka.Enabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("PORT", "9001")
	t.Setenv("DATABASE_URL", "postgresql://u:p@db:5432/agent")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("MILVUS_ADDRESS", "milvus:19530")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "9001", AppConfig.Server.Port)
	assert.Equal(t, "postgresql://u:p@db:5432/agent", AppConfig.Database.URL)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, AppConfig.Kafka.Brokers)
	assert.True(t, AppConfig.Kafka.Enabled)
	assert.Equal(t, "milvus", AppConfig.Knowledge.VectorStore.Provider)
	assert.Equal(t, "milvus:19530", AppConfig.Knowledge.VectorStore.Milvus.Address)
}

func TestValidate_DefaultsPass(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, LoadConfig())
	assert.NoError(t, Validate(AppConfig))
}

func TestValidate_Invalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, LoadConfig())

	cfg := *AppConfig

	cfg.Knowledge.ChunkOverlap = cfg.Knowledge.ChunkSize
	assert.Error(t, Validate(&cfg))

	cfg = *AppConfig
	cfg.Knowledge.MinScore = 1.5
	assert.Error(t, Validate(&cfg))

	cfg = *AppConfig
	cfg.Knowledge.Embedding.Provider = "openai"
	cfg.AI.OpenAIAPIKey = ""
	assert.Error(t, Validate(&cfg))

	assert.Error(t, Validate(nil))
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: \"9100\"\nknowledge:\n  top_k: 8\n  candidate_top_k: 32\n"
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	t.Setenv("CONFIG_FILE", configFile)

	require.NoError(t, LoadConfig())
	assert.Equal(t, "9100", AppConfig.Server.Port)
	assert.Equal(t, 8, AppConfig.Knowledge.TopK)
	assert.Equal(t, 32, AppConfig.Knowledge.CandidateTopK)
}

func TestLoadConfig_ConfigFileMissing(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, LoadConfig())
}

func TestValidate_KafkaEnabledNeedsBrokers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, LoadConfig())

	cfg := *AppConfig
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	assert.Error(t, Validate(&cfg))
}
