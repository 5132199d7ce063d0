package logs

import (
	"encoding/json"
	"strconv"
	"strings"

	"bookdrop/internal/logging"
)

// Filter selects log lines. Zero-value fields match everything.
type Filter struct {
	CorrelationID string
	Component     string
	EventType     string
	BookID        int64
	MinLevel      string
}

func (f Filter) empty() bool {
	return f == Filter{}
}

// Matches reports whether line passes the filter.
func (f Filter) Matches(line string) bool {
	if f.empty() {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(trimmed), &entry); err == nil {
			return f.matchesEntry(entry)
		}
	}
	return f.matchesText(line)
}

func (f Filter) matchesEntry(entry map[string]any) bool {
	if f.CorrelationID != "" && field(entry, logging.FieldCorrelationID) != f.CorrelationID {
		return false
	}
	if f.Component != "" && field(entry, logging.FieldComponent) != f.Component {
		return false
	}
	if f.EventType != "" && field(entry, logging.FieldEventType) != f.EventType {
		return false
	}
	if f.BookID != 0 && field(entry, logging.FieldBookID) != strconv.FormatInt(f.BookID, 10) {
		return false
	}
	if f.MinLevel != "" && levelRank(field(entry, "level")) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

func (f Filter) matchesText(line string) bool {
	for _, want := range []string{f.CorrelationID, f.Component, f.EventType} {
		if want != "" && !strings.Contains(line, want) {
			return false
		}
	}
	if f.BookID != 0 && !strings.Contains(line, strconv.FormatInt(f.BookID, 10)) {
		return false
	}
	if f.MinLevel != "" {
		upper := strings.ToUpper(line)
		for _, level := range []string{"ERROR", "WARN", "INFO", "DEBUG"} {
			if strings.Contains(upper, level) {
				return levelRank(level) >= levelRank(f.MinLevel)
			}
		}
	}
	return true
}

func field(entry map[string]any, key string) string {
	switch v := entry[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}

func levelRank(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return 0
	case "INFO":
		return 1
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}
