package models

import "fmt"

// NullString is a nullable text column that reads NULL as the empty string.
type NullString string

// Scan implements sql.Scanner.
func (n *NullString) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*n = ""
	case string:
		*n = NullString(v)
	case []byte:
		*n = NullString(v)
	default:
		return fmt.Errorf("cannot scan %T into NullString", src)
	}
	return nil
}

// String returns the underlying text.
func (n NullString) String() string {
	return string(n)
}
