package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Zitadel   ZitadelConfig
	Render    RenderConfig
	Canvas    CanvasConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type AuthConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	RenderPerHour int
	SignPerHour   int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether uploads and signing are possible.
func (c R2Config) Configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RenderConfig struct {
	FPS              int
	FFmpegBinary     string
	FFprobeBinary    string
	WorkDir          string
	OutputDir        string
	SeekTimeout      int // seconds
	Concurrency      int
	PreviewTolerance float64
}

type CanvasConfig struct {
	Width   int
	Height  int
	BgColor string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = viper.BindEnv("ratelimit.render_per_hour", "RATELIMIT_RENDER_PER_HOUR")
	_ = viper.BindEnv("ratelimit.sign_per_hour", "RATELIMIT_SIGN_PER_HOUR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("render.fps", "RENDER_FPS")
	_ = viper.BindEnv("render.ffmpeg_binary", "FFMPEG_BINARY")
	_ = viper.BindEnv("render.ffprobe_binary", "FFPROBE_BINARY")
	_ = viper.BindEnv("render.work_dir", "RENDER_WORK_DIR")
	_ = viper.BindEnv("render.output_dir", "RENDER_OUTPUT_DIR")
	_ = viper.BindEnv("render.seek_timeout_seconds", "RENDER_SEEK_TIMEOUT")
	_ = viper.BindEnv("render.concurrency", "RENDER_CONCURRENCY")
	_ = viper.BindEnv("render.preview_tolerance", "RENDER_PREVIEW_TOLERANCE")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("ratelimit.render_per_hour", 5)
	viper.SetDefault("ratelimit.sign_per_hour", 50)

	// Render defaults
	viper.SetDefault("render.fps", 30)
	viper.SetDefault("render.ffmpeg_binary", "ffmpeg")
	viper.SetDefault("render.ffprobe_binary", "ffprobe")
	viper.SetDefault("render.work_dir", os.TempDir())
	viper.SetDefault("render.output_dir", "renders")
	viper.SetDefault("render.seek_timeout_seconds", 10)
	viper.SetDefault("render.concurrency", 1)
	viper.SetDefault("render.preview_tolerance", 0.2)

	// Canvas defaults
	viper.SetDefault("canvas.width", 1920)
	viper.SetDefault("canvas.height", 1080)
	viper.SetDefault("canvas.bg_color", "#000000")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Auth: AuthConfig{
			Enabled: viper.GetBool("auth.enabled"),
		},
		RateLimit: RateLimitConfig{
			RenderPerHour: viper.GetInt("ratelimit.render_per_hour"),
			SignPerHour:   viper.GetInt("ratelimit.sign_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Render: RenderConfig{
			FPS:              viper.GetInt("render.fps"),
			FFmpegBinary:     viper.GetString("render.ffmpeg_binary"),
			FFprobeBinary:    viper.GetString("render.ffprobe_binary"),
			WorkDir:          viper.GetString("render.work_dir"),
			OutputDir:        viper.GetString("render.output_dir"),
			SeekTimeout:      viper.GetInt("render.seek_timeout_seconds"),
			Concurrency:      viper.GetInt("render.concurrency"),
			PreviewTolerance: viper.GetFloat64("render.preview_tolerance"),
		},
		Canvas: CanvasConfig{
			Width:   viper.GetInt("canvas.width"),
			Height:  viper.GetInt("canvas.height"),
			BgColor: viper.GetString("canvas.bg_color"),
		},
	}

	if cfg.Render.Concurrency < 1 {
		return nil, fmt.Errorf("render.concurrency must be at least 1, got %d", cfg.Render.Concurrency)
	}
	if cfg.Render.FPS < 1 {
		return nil, fmt.Errorf("render.fps must be at least 1, got %d", cfg.Render.FPS)
	}

	return cfg, nil
}
