package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// teeHandler forwards records to an optional console/file handler and
// publishes them into a StreamHub. The hub has its own level so the stream
// can carry info events while the console runs at warn, or the reverse.
type teeHandler struct {
	next   slog.Handler
	hub    *StreamHub
	level  slog.Level
	fields []field
	groups []string
}

// WithStream returns a logger that writes through logger (when non-nil) and
// publishes every record at or above level into hub. A nil hub returns
// logger unchanged.
func WithStream(logger *slog.Logger, hub *StreamHub, level slog.Level) *slog.Logger {
	if hub == nil {
		if logger == nil {
			return NewNop()
		}
		return logger
	}
	h := &teeHandler{hub: hub, level: level}
	if logger != nil {
		h.next = logger.Handler()
	}
	return slog.New(h)
}

// NewStreamLogger returns a logger whose only output is hub.
func NewStreamLogger(hub *StreamHub, level slog.Level) *slog.Logger {
	return WithStream(nil, hub, level)
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || (h.next != nil && h.next.Enabled(ctx, level))
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level {
		h.hub.Publish(h.event(record))
	}
	if h.next == nil || !h.next.Enabled(ctx, record.Level) {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	if clone.next != nil {
		clone.next = clone.next.WithAttrs(attrs)
	}
	for _, attr := range attrs {
		flatten(&clone.fields, clone.groups, attr)
	}
	return clone
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	if clone.next != nil {
		clone.next = clone.next.WithGroup(name)
	}
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *teeHandler) clone() *teeHandler {
	return &teeHandler{
		next:   h.next,
		hub:    h.hub,
		level:  h.level,
		fields: slices.Clone(h.fields),
		groups: slices.Clone(h.groups),
	}
}

// event converts record into a LogEvent. Logger attributes are applied
// first so call-site attributes override them.
func (h *teeHandler) event(record slog.Record) LogEvent {
	evt := LogEvent{
		Timestamp: record.Time,
		Severity:  SeverityForLevel(record.Level),
		Level:     strings.ToLower(levelLabel(record.Level)),
		Message:   strings.TrimSpace(record.Message),
	}
	fields := slices.Clone(h.fields)
	record.Attrs(func(attr slog.Attr) bool {
		flatten(&fields, h.groups, attr)
		return true
	})
	for _, f := range fields {
		evt.set(f)
	}
	return evt
}

func (evt *LogEvent) set(f field) {
	switch f.key {
	case FieldComponent:
		evt.Component = valueString(f.value)
		return
	case FieldRunID:
		evt.RunID = valueString(f.value)
		return
	case FieldAppID:
		switch f.value.Kind() {
		case slog.KindUint64:
			evt.AppID = uint32(f.value.Uint64())
			return
		case slog.KindInt64:
			evt.AppID = uint32(f.value.Int64())
			return
		}
	}
	if evt.Fields == nil {
		evt.Fields = make(map[string]string)
	}
	evt.Fields[f.key] = valueString(f.value)
}
