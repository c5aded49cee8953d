package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// bridge adapts a zerolog logger to the slog.Handler contract so code
// written against log/slog shares the process-wide structured output.
// slog groups flatten into dot-separated key prefixes.
type bridge struct {
	zl     *zerolog.Logger
	prefix string      // dotted path accumulated by WithGroup
	attrs  []slog.Attr // bound via WithAttrs, keys already prefixed
}

// NewSlog wraps zl in a *slog.Logger.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&bridge{zl: zl})
}

func (b *bridge) Enabled(_ context.Context, lvl slog.Level) bool {
	return levelOf(lvl) >= b.zl.GetLevel()
}

func (b *bridge) Handle(ctx context.Context, rec slog.Record) error {
	ev := FromContext(ctx, b.zl).WithLevel(levelOf(rec.Level))
	for _, a := range b.attrs {
		ev = appendAttr(ev, "", a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, b.prefix, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *b
	cp.attrs = append([]slog.Attr(nil), b.attrs...)
	for _, a := range attrs {
		a.Key = b.prefix + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (b *bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	cp := *b
	cp.prefix = b.prefix + name + "."
	return &cp
}

func levelOf(lvl slog.Level) zerolog.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zerolog.DebugLevel
	case lvl < slog.LevelWarn:
		return zerolog.InfoLevel
	case lvl < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			ev = appendAttr(ev, key+".", ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
