package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Generation.ModelCreditCost)
	assert.Equal(t, 60*time.Second, cfg.Generation.SketchTimeout)
	assert.Equal(t, 300*time.Second, cfg.Generation.ModelTimeout)
	assert.Equal(t, "doodles.events", cfg.Broker.Exchange)
	assert.Empty(t, cfg.Broker.URL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("APP_ENV", "test")
	t.Setenv("PUBLIC_URL", "https://doodles.example.com/")
	t.Setenv("MODEL_CREDIT_COST", "7")
	t.Setenv("SKETCH_TIMEOUT", "90s")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.Equal(t, "https://doodles.example.com", cfg.Server.PublicURL)
	assert.Equal(t, 7, cfg.Generation.ModelCreditCost)
	assert.Equal(t, 90*time.Second, cfg.Generation.SketchTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}
