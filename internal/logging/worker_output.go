package logging

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// WorkerLine is one structured line of worker output.
type WorkerLine struct {
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// workerOwnedKeys are set by the supervisor for every worker line, or are
// slog bookkeeping that the daemon logger writes again.
var workerOwnedKeys = map[string]bool{
	slog.TimeKey:    true,
	"ts":            true,
	slog.LevelKey:   true,
	slog.MessageKey: true,
	slog.SourceKey:  true,
	FieldAppID:      true,
	FieldComponent:  true,
}

// ParseWorkerLine decodes a JSON log line written by a slog-based worker,
// such as idlefarm-worker. It reports false for anything that is not a JSON
// object carrying a string msg. Missing or unknown levels count as info.
func ParseWorkerLine(line string) (WorkerLine, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return WorkerLine{}, false
	}
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return WorkerLine{}, false
	}
	msg, ok := raw[slog.MessageKey].(string)
	if !ok {
		return WorkerLine{}, false
	}

	out := WorkerLine{Level: slog.LevelInfo, Message: msg}
	if level, ok := raw[slog.LevelKey].(string); ok {
		out.Level = ParseLevel(level)
	}
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		if workerOwnedKeys[key] {
			continue
		}
		out.Attrs = append(out.Attrs, slog.String(key, jsonText(raw[key])))
	}
	return out, true
}

func jsonText(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	case nil:
		return "null"
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
