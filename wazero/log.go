package wazero

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// LogAttr is a typed attribute as sent by the guest.
type LogAttr struct {
	Key   string `json:"key"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// LogMessage is the JSON payload of the log_message host function.
type LogMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Attrs   []LogAttr `json:"attrs,omitempty"`
}

// NewLogFunc returns the `log_message` host function. It receives a packed
// i64 (ptr+len) pointing at a JSON LogMessage and returns nothing. source
// maps the calling module to the attribute logged as "plugin".
func NewLogFunc(logger *slog.Logger, source func(api.Module) string) api.GoModuleFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		plugin := source(mod)

		raw, err := ReadBytes(mod, stack[0])
		if err != nil {
			logger.ErrorContext(ctx, "wazero: failed to read log message from guest memory", "plugin", plugin, "error", err)
			return
		}
		var msg LogMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.ErrorContext(ctx, "wazero: failed to unmarshal log message", "plugin", plugin, "error", err)
			return
		}

		attrs := make([]slog.Attr, 0, len(msg.Attrs)+1)
		attrs = append(attrs, slog.String("plugin", plugin))
		for _, a := range msg.Attrs {
			attrs = append(attrs, convertAttr(a))
		}
		logger.LogAttrs(ctx, ParseLogLevel(msg.Level), msg.Message, attrs...)
	}
}

// ParseLogLevel converts a guest level name to slog.Level, defaulting to info.
func ParseLogLevel(levelStr string) slog.Level {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func convertAttr(attr LogAttr) slog.Attr {
	switch attr.Type {
	case "int64":
		if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
			return slog.Int64(attr.Key, v)
		}
	case "bool":
		if v, err := strconv.ParseBool(attr.Value); err == nil {
			return slog.Bool(attr.Key, v)
		}
	case "float64":
		if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
			return slog.Float64(attr.Key, v)
		}
	case "time":
		if v, err := time.Parse(time.RFC3339Nano, attr.Value); err == nil {
			return slog.Time(attr.Key, v)
		}
	case "error":
		return slog.Any(attr.Key, fmt.Errorf("%s", attr.Value))
	}
	return slog.String(attr.Key, attr.Value)
}
