package postgresql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// jsonbValue marshals a value into a JSONB column, mapping nil to SQL NULL.
func jsonbValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}

	return data, nil
}

// scanJSONB unmarshals a JSONB column into dest, leaving dest untouched for
// SQL NULL.
func scanJSONB(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}

	return nil
}

// nullTime maps an optional timestamp to its SQL representation.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr maps a SQL nullable timestamp back to an optional timestamp.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}

// nullString maps an optional string to its SQL representation.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

// stringPtr maps a SQL nullable string back to an optional string.
func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	value := s.String

	return &value
}
