// Package logger configures zerolog output and the slog bridge the rest of
// the module logs through.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Scenario  string
	Component string
}

// ConfigFromEnv reads LOG_LEVEL, LOG_CONSOLE and LOG_SAMPLE_N.
func ConfigFromEnv(component, scenario string) Config {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	n, _ := strconv.Atoi(env("LOG_SAMPLE_N"))
	return Config{
		Level:     env("LOG_LEVEL"),
		Console:   strings.EqualFold(env("LOG_CONSOLE"), "true"),
		SampleN:   n,
		Scenario:  scenario,
		Component: component,
	}
}

// New builds the zerolog logger and wraps it for slog callers.
func New(cfg Config, out io.Writer) *slog.Logger {
	zl := Build(cfg, out)
	return NewSlog(&zl)
}

// Build returns the root zerolog logger. It also sets the global level, so
// the last call wins.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out)
	if cfg.SampleN > 1 {
		zl = zl.Sample(&zerolog.BasicSampler{N: uint32(min(uint64(cfg.SampleN), math.MaxUint32))})
	}

	fields := zl.With().Timestamp()
	for k, v := range map[string]string{"scenario": cfg.Scenario, "component": cfg.Component} {
		if v != "" {
			fields = fields.Str(k, v)
		}
	}
	return fields.Logger()
}

// ParseLevel maps debug/warn/error onto zerolog levels; anything else is info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

type ctxKey string

// contextFields are copied onto every record logged with the context.
var contextFields = []ctxKey{"request_id", "component", "hit_class"}

func withField(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

// WithRequestID tags ctx with reqID, generating one when empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return withField(ctx, "request_id", reqID)
}

// WithHitClass records how the query cache answered (hit, miss, error).
func WithHitClass(ctx context.Context, hit string) context.Context {
	return withField(ctx, "hit_class", hit)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withField(ctx, "component", component)
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// FromContext returns a child of parent carrying the context fields. A nil
// parent logs nowhere.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.New(io.Discard)
	if parent != nil {
		base = *parent
	}
	w := base.With()
	for _, k := range contextFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
