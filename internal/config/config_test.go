package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "postgres://localhost/kamsentry", MaxOpenConns: 20, MaxIdleConns: 5},
		Redis:    RedisConfig{URL: "redis://localhost:6379/0"},
		LLM:      LLMConfig{Host: "localhost", MaxConcurrency: 2},
		Logging:  LoggingConfig{Level: "info"},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingDatabaseTarget(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMaxOpenConns(t *testing.T) {
	cfg := validConfig()
	cfg.Database.MaxOpenConns = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsIdleExceedingOpen(t *testing.T) {
	cfg := validConfig()
	cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingRedisURL(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroLLMConcurrency(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.MaxConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestGetDatabaseURLBuildsDSNFromDiscreteFields(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		User: "kamsentry", Password: "secret", Host: "db", Port: 5432,
		Database: "kamsentry", SSLMode: "disable",
	}}
	assert.Equal(t, "postgres://kamsentry:secret@db:5432/kamsentry?sslmode=disable", cfg.GetDatabaseURL())
}

func TestGetLLMBaseURL(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{Host: "ollama", Port: 11434}}
	assert.Equal(t, "http://ollama:11434", cfg.GetLLMBaseURL())
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := &Config{App: AppConfig{Environment: "Production"}}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
