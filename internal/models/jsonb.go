package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

//
// JSONB helpers
//

// jsonbValue marshals v for a Postgres jsonb column.
func jsonbValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// jsonbScan unmarshals a jsonb column into target. NULL and empty values leave target untouched.
func jsonbScan(value any, target any) error {
	if value == nil {
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("JSONB: expected []byte, got %T", value)
	}

	if len(b) == 0 {
		return nil
	}

	return json.Unmarshal(b, target)
}

// Value implements driver.Valuer. A nil conversation is stored as an empty array.
func (c Conversation) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return jsonbValue([]Message(c))
}

// Scan implements sql.Scanner.
func (c *Conversation) Scan(value any) error {
	*c = nil
	return jsonbScan(value, (*[]Message)(c))
}

// Value implements driver.Valuer.
func (k EncryptedKeys) Value() (driver.Value, error) {
	if k == nil {
		return []byte("{}"), nil
	}
	return jsonbValue(map[string]string(k))
}

// Scan implements sql.Scanner.
func (k *EncryptedKeys) Scan(value any) error {
	*k = EncryptedKeys{}
	return jsonbScan(value, (*map[string]string)(k))
}
