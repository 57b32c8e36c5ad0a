package logger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// ContextHandler extracts the context keys in context.go and adds them as
// attributes to every record before delegating to the inner handler.
type ContextHandler struct {
	inner        slog.Handler
	commonFields []slog.Attr
}

// ModuleHandler extends ContextHandler with per-module log level filtering
// (spec A.1: "module overrides, e.g. wsserver=debug while the rest of the
// service stays at info").
type ModuleHandler struct {
	ContextHandler
	moduleConfig *ModuleConfig
}

// NewContextHandler wraps inner, adding commonFields to every record.
func NewContextHandler(inner slog.Handler, commonFields ...slog.Attr) *ContextHandler {
	return &ContextHandler{inner: inner, commonFields: commonFields}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	for _, attr := range h.commonFields {
		newRecord.AddAttrs(attr)
	}
	h.addContextFields(ctx, &newRecord)
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(a)
		return true
	})
	return h.inner.Handle(ctx, newRecord)
}

func (h *ContextHandler) addContextFields(ctx context.Context, r *slog.Record) {
	for _, key := range allContextKeys {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok && s != "" {
				r.AddAttrs(slog.String(string(key), s))
			}
		}
	}
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), commonFields: h.commonFields}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name), commonFields: h.commonFields}
}

func (h *ContextHandler) Unwrap() slog.Handler { return h.inner }

var _ slog.Handler = (*ContextHandler)(nil)

// NewModuleHandler wraps inner with per-module level filtering on top of
// context-field enrichment.
func NewModuleHandler(inner slog.Handler, moduleConfig *ModuleConfig, commonFields ...slog.Attr) *ModuleHandler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{inner: inner, commonFields: commonFields},
		moduleConfig:   moduleConfig,
	}
}

func (h *ModuleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	module := getCallerModule()
	return level >= h.moduleConfig.LevelFor(module)
}

func (h *ModuleHandler) Handle(ctx context.Context, r slog.Record) error {
	module := getCallerModuleFromPC(r.PC)
	if r.Level < h.moduleConfig.LevelFor(module) {
		return nil
	}

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	for _, attr := range h.commonFields {
		newRecord.AddAttrs(attr)
	}
	if module != "" {
		newRecord.AddAttrs(slog.String("logger", module))
	}
	h.addContextFields(ctx, &newRecord)
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(a)
		return true
	})
	return h.inner.Handle(ctx, newRecord)
}

func (h *ModuleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{inner: h.inner.WithAttrs(attrs), commonFields: h.commonFields},
		moduleConfig:   h.moduleConfig,
	}
}

func (h *ModuleHandler) WithGroup(name string) slog.Handler {
	return &ModuleHandler{
		ContextHandler: ContextHandler{inner: h.inner.WithGroup(name), commonFields: h.commonFields},
		moduleConfig:   h.moduleConfig,
	}
}

// getCallerModule walks the stack to find the first frame outside this
// package, skipping the Enabled call itself.
func getCallerModule() string {
	const maxDepth = 10
	var pcs [maxDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		module := extractModuleFromFunction(frame.Function)
		if module != "" && !strings.HasPrefix(module, "logger") {
			return module
		}
		if !more {
			break
		}
	}
	return ""
}

func getCallerModuleFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	return extractModuleFromFunction(frame.Function)
}

// extractModuleFromFunction turns
// "github.com/Aeonia-ai/gaia-sub001/internal/wsserver.(*Server).Serve" into
// "internal.wsserver".
func extractModuleFromFunction(fn string) string {
	if fn == "" {
		return ""
	}
	const moduleRoot = "github.com/Aeonia-ai/gaia-sub001/"
	idx := strings.Index(fn, moduleRoot)
	if idx == -1 {
		return ""
	}
	path := fn[idx+len(moduleRoot):]
	if parenIdx := strings.Index(path, "("); parenIdx != -1 {
		path = path[:parenIdx]
	}
	if dotIdx := strings.LastIndex(path, "."); dotIdx != -1 {
		path = path[:dotIdx]
	}
	return strings.ReplaceAll(path, "/", ".")
}

var _ slog.Handler = (*ModuleHandler)(nil)
