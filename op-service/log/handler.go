package log

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/holiman/uint256"

	elog "github.com/ethereum/go-ethereum/log"
)

const timeFormatMs = "2006-01-02T15:04:05.000-0700"

// FormatType defines a type of log format.
// Supported formats: 'text', 'terminal', 'logfmt', 'json'
type FormatType string

const (
	FormatText     FormatType = "text"
	FormatTerminal FormatType = "terminal"
	FormatLogFmt   FormatType = "logfmt"
	FormatJSON     FormatType = "json"
)

func (ft FormatType) String() string {
	return string(ft)
}

// Set implements cli.Generic so the type can be used directly as a flag value.
func (ft *FormatType) Set(value string) error {
	switch FormatType(strings.ToLower(value)) {
	case FormatText, FormatTerminal, FormatLogFmt, FormatJSON:
		*ft = FormatType(strings.ToLower(value))
		return nil
	default:
		return fmt.Errorf("unrecognized log-format: %q", value)
	}
}

func (ft *FormatType) Clone() any {
	cpy := *ft
	return &cpy
}

// Handler builds the slog handler for the format.
// The text format is terminal output when color is enabled, and logfmt otherwise.
func (ft FormatType) Handler(w io.Writer, level slog.Level, color bool) slog.Handler {
	switch ft {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			ReplaceAttr: builtinReplaceJSONMs,
			Level:       level,
		})
	case FormatTerminal:
		return elog.NewTerminalHandlerWithLevel(w, level, color)
	case FormatText:
		if color {
			return elog.NewTerminalHandlerWithLevel(w, level, true)
		}
		fallthrough
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			ReplaceAttr: builtinReplaceLogfmtMs,
			Level:       level,
		})
	}
}

func builtinReplaceLogfmtMs(_ []string, attr slog.Attr) slog.Attr {
	return builtinReplaceMs(attr, true)
}

func builtinReplaceJSONMs(_ []string, attr slog.Attr) slog.Attr {
	return builtinReplaceMs(attr, false)
}

func builtinReplaceMs(attr slog.Attr, logfmt bool) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			if logfmt {
				return slog.String("t", attr.Value.Time().Format(timeFormatMs))
			}
			return slog.Attr{Key: "t", Value: attr.Value}
		}
	case slog.LevelKey:
		if l, ok := attr.Value.Any().(slog.Level); ok {
			return slog.Any("lvl", elog.LevelString(l))
		}
	}

	switch v := attr.Value.Any().(type) {
	case time.Time:
		if logfmt {
			attr = slog.String(attr.Key, v.Format(timeFormatMs))
		}
	case *big.Int:
		if v == nil {
			attr.Value = slog.StringValue("<nil>")
		} else {
			attr.Value = slog.StringValue(v.String())
		}
	case *uint256.Int:
		if v == nil {
			attr.Value = slog.StringValue("<nil>")
		} else {
			attr.Value = slog.StringValue(v.Dec())
		}
	case fmt.Stringer:
		if v == nil || (reflect.ValueOf(v).Kind() == reflect.Pointer && reflect.ValueOf(v).IsNil()) {
			attr.Value = slog.StringValue("<nil>")
		} else {
			attr.Value = slog.StringValue(v.String())
		}
	}
	return attr
}
