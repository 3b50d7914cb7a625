package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Pipeline   PipelineConfig
	Stripe     StripeConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
	Broker     BrokerConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port         string
	Env          string // development | production | test; selects the credit pack catalog
	PublicURL    string // base URL the pipeline calls back on
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // postgres | mysql
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// JWTConfig verifies bearer tokens issued by the auth provider. When JWKSURL
// is set keys are fetched from it; otherwise tokens are HS256 with Secret.
type JWTConfig struct {
	Secret   string
	JWKSURL  string
	Issuer   string
	Audience string
}

type PipelineConfig struct {
	APIKey          string
	Timeout         time.Duration
	SketchRunsURL   string
	SketchID        string
	SketchInputNode string
	SketchImageNode string
	ModelRunsURL    string
	ModelID         string
	ModelInputNode  string
	ModelOutputNode string
	ModelPosterNode string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
}

type GenerationConfig struct {
	ModelCreditCost int
	SketchTimeout   time.Duration
	ModelTimeout    time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type BrokerConfig struct {
	URL      string // empty disables event publishing
	Exchange string
}

type RedisConfig struct {
	Addr     string // empty keeps the in-process rate limiter
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3010")
	v.SetDefault("app_env", "development")
	v.SetDefault("public_url", "http://localhost:3010")
	v.SetDefault("read_timeout", 10*time.Second)
	v.SetDefault("write_timeout", 60*time.Second)

	v.SetDefault("db_driver", "postgres")
	v.SetDefault("postgres_url", "host=localhost user=postgres password=postgres dbname=doodles port=5432 sslmode=disable")
	v.SetDefault("db_max_idle_conns", 10)
	v.SetDefault("db_max_open_conns", 100)
	v.SetDefault("db_conn_max_lifetime", time.Hour)

	v.SetDefault("jwt_issuer", "")
	v.SetDefault("jwt_audience", "authenticated")

	v.SetDefault("lightbox_timeout", 30*time.Second)
	v.SetDefault("lightbox_sketch_runs_url", "https://api.lightbox.dev/v1/pipelines/doodle-sketch/runs")
	v.SetDefault("lightbox_sketch_pipeline_id", "doodle-sketch")
	v.SetDefault("lightbox_sketch_input_node", "prompt")
	v.SetDefault("lightbox_sketch_output_node", "image")
	v.SetDefault("lightbox_model_runs_url", "https://api.lightbox.dev/v1/pipelines/doodle-3d/runs")
	v.SetDefault("lightbox_model_pipeline_id", "doodle-3d")
	v.SetDefault("lightbox_model_input_node", "image")
	v.SetDefault("lightbox_model_output_node", "model")
	v.SetDefault("lightbox_model_poster_node", "poster")

	v.SetDefault("frontend_url", "http://localhost:3010")

	v.SetDefault("model_credit_cost", 5)
	v.SetDefault("sketch_timeout", 60*time.Second)
	v.SetDefault("model_timeout", 300*time.Second)

	v.SetDefault("rate_limit_requests", 100)
	v.SetDefault("rate_limit_window", time.Minute)

	v.SetDefault("amqp_exchange", "doodles.events")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cors_allowed_origins", "http://localhost:3010")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port:         v.GetString("port"),
			Env:          v.GetString("app_env"),
			PublicURL:    strings.TrimRight(v.GetString("public_url"), "/"),
			ReadTimeout:  v.GetDuration("read_timeout"),
			WriteTimeout: v.GetDuration("write_timeout"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("db_driver"),
			DSN:             v.GetString("postgres_url"),
			MaxIdleConns:    v.GetInt("db_max_idle_conns"),
			MaxOpenConns:    v.GetInt("db_max_open_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt_secret"),
			JWKSURL:  v.GetString("jwt_jwks_url"),
			Issuer:   v.GetString("jwt_issuer"),
			Audience: v.GetString("jwt_audience"),
		},
		Pipeline: PipelineConfig{
			APIKey:          v.GetString("lightbox_api_key"),
			Timeout:         v.GetDuration("lightbox_timeout"),
			SketchRunsURL:   v.GetString("lightbox_sketch_runs_url"),
			SketchID:        v.GetString("lightbox_sketch_pipeline_id"),
			SketchInputNode: v.GetString("lightbox_sketch_input_node"),
			SketchImageNode: v.GetString("lightbox_sketch_output_node"),
			ModelRunsURL:    v.GetString("lightbox_model_runs_url"),
			ModelID:         v.GetString("lightbox_model_pipeline_id"),
			ModelInputNode:  v.GetString("lightbox_model_input_node"),
			ModelOutputNode: v.GetString("lightbox_model_output_node"),
			ModelPosterNode: v.GetString("lightbox_model_poster_node"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe_secret_key"),
			WebhookSecret: v.GetString("stripe_webhook_secret"),
			FrontendURL:   strings.TrimRight(v.GetString("frontend_url"), "/"),
		},
		Generation: GenerationConfig{
			ModelCreditCost: v.GetInt("model_credit_cost"),
			SketchTimeout:   v.GetDuration("sketch_timeout"),
			ModelTimeout:    v.GetDuration("model_timeout"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("rate_limit_requests"),
			Window:   v.GetDuration("rate_limit_window"),
		},
		Broker: BrokerConfig{
			URL:      v.GetString("amqp_url"),
			Exchange: v.GetString("amqp_exchange"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		},
		Log: LogConfig{
			Level: v.GetString("log_level"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
