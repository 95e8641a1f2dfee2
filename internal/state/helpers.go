package state

import (
	"database/sql"
	"encoding/json"
	"time"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTimeString(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	parsed := parseTimeString(value.String)
	if parsed.IsZero() {
		return nil
	}
	return &parsed
}

func encodeWhitelist(tokens []string) (string, error) {
	if len(tokens) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeWhitelist(raw string) []string {
	if raw == "" {
		return nil
	}
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil
	}
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}
