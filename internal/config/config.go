// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// Server
	ServerPort        string `mapstructure:"server_port" validate:"required,numeric"`
	BaseURL           string `mapstructure:"base_url"`
	CORSAllowedOrigin string `mapstructure:"cors_allowed_origin"`
	MaxUploadBytes    int64  `mapstructure:"max_upload_bytes" validate:"gt=0"`

	// Session
	SessionMaxAge int    `mapstructure:"session_max_age" validate:"gt=0"` // 秒
	CacheDir      string `mapstructure:"cache_dir"`                       // 空の場合はインメモリ

	// Storage
	StorageBackend string `mapstructure:"storage_backend" validate:"oneof=local s3"`
	StorageRoot    string `mapstructure:"storage_root" validate:"required_if=StorageBackend local"`
	S3Bucket       string `mapstructure:"s3_bucket" validate:"required_if=StorageBackend s3"`
	S3Region       string `mapstructure:"s3_region"`
	S3Endpoint     string `mapstructure:"s3_endpoint"`
	S3AccessKey    string `mapstructure:"s3_access_key"`
	S3SecretKey    string `mapstructure:"s3_secret_key"`
	S3KeyPrefix    string `mapstructure:"s3_key_prefix"`

	// Thumbnail
	ThumbnailWidths        []int         `mapstructure:"thumbnail_widths" validate:"required,min=1,dive,gt=0"`
	ThumbnailMaxConcurrent int           `mapstructure:"thumbnail_max_concurrent" validate:"gt=0"`
	ThumbnailPollInterval  time.Duration `mapstructure:"thumbnail_poll_interval" validate:"gt=0"`
	ThumbnailJobTimeout    time.Duration `mapstructure:"thumbnail_job_timeout" validate:"gt=0"`
	JobRetentionDays       int           `mapstructure:"job_retention_days" validate:"gt=0"`

	// Rate Limit（req/min）
	RateLimitGeneral int `mapstructure:"rate_limit_general" validate:"gt=0"`
	RateLimitAuth    int `mapstructure:"rate_limit_auth" validate:"gt=0"`

	// Logging
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

var validate = newValidator()

// newValidator はエラー表示にmapstructureタグ名を使うvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

// defaults は任意項目のデフォルト値。キーは環境変数名を小文字にしたもの。
var defaults = map[string]any{
	"server_port":              "8080",
	"base_url":                 "http://localhost:8080",
	"cors_allowed_origin":      "http://localhost:3000",
	"max_upload_bytes":         int64(10 << 20),
	"session_max_age":          86400,
	"cache_dir":                "",
	"storage_backend":          "local",
	"storage_root":             "/tmp/files_manager",
	"s3_bucket":                "",
	"s3_region":                "us-east-1",
	"s3_endpoint":              "",
	"s3_access_key":            "",
	"s3_secret_key":            "",
	"s3_key_prefix":            "",
	"thumbnail_widths":         []int{500, 250, 100},
	"thumbnail_max_concurrent": 4,
	"thumbnail_poll_interval":  2 * time.Second,
	"thumbnail_job_timeout":    30 * time.Second,
	"job_retention_days":       30,
	"rate_limit_general":       120,
	"rate_limit_auth":          10,
	"log_level":                "info",
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILE が設定されている場合はその設定ファイルを先に読み込み、環境変数で上書きする。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// DATABASE_URL はデフォルト値を持たないため明示的にバインドする
	if err := v.BindEnv("database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}

	return cfg, nil
}

// formatValidationError はvalidatorのエラーを環境変数名ベースのメッセージに変換する。
func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var invalid []string
	for _, e := range verrs {
		invalid = append(invalid, fmt.Sprintf("%s (%s)", strings.ToUpper(e.Field()), e.Tag()))
	}
	return fmt.Errorf("invalid or missing environment variables: %v", invalid)
}
