package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

var envAliases = map[string]Env{
	"prod":           EnvProd,
	"production":     EnvProd,
	"stage":          EnvStage,
	"staging":        EnvStage,
	"preprod":        EnvStage,
	"pre-production": EnvStage,
}

// DetectEnv: MAINROOM_ENV, затем APP_ENV. Неизвестное или пустое значение - dev.
func DetectEnv() Env {
	for _, key := range []string{"MAINROOM_ENV", "APP_ENV"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return ParseEnv(v)
		}
	}
	return EnvDev
}

func ParseEnv(raw string) Env {
	if e, ok := envAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return e
	}
	return EnvDev
}

// instanceID различает реплики в общем потоке логов: <host>-<8 символов uuid>.
func instanceID(preset string) string {
	if preset != "" {
		return preset
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mainroom"
	}
	return host + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func baseAttrs(cfg Config, started time.Time) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", started),
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return attrs
}
