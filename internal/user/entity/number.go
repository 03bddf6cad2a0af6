package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Age is a whole number of years. It decodes from a JSON number or a
// numeric string, as sent by HTML number inputs.
type Age int

func (a *Age) UnmarshalJSON(b []byte) error {
	s, err := numberText(b)
	if err != nil {
		return fmt.Errorf("age: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return fmt.Errorf("age: %q is not a whole number", s)
		}
		n = int(f)
	}
	*a = Age(n)
	return nil
}

// Decimal is a monetary amount kept as its decimal text so no precision is
// lost on the way to a NUMERIC column. It decodes from a JSON number or string.
type Decimal string

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s, err := numberText(b)
	if err != nil {
		return fmt.Errorf("decimal: %w", err)
	}
	*d = Decimal(s)
	return nil
}

// numberText returns the text of a JSON number or of a JSON string holding
// one. Strings are trimmed but otherwise left for validation.
func numberText(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
