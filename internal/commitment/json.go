package commitment

import (
	"encoding/base64"
	"fmt"

	"anonpay/internal/errs"
)

// MarshalJSON encodes the commitment as a base64 string of its canonical bytes.
func (c Commitment) MarshalJSON() ([]byte, error) {
	b := c.Bytes()
	return []byte(`"` + base64.StdEncoding.EncodeToString(b[:]) + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface with the same checks as Decode.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON string for commitment: %w", errs.ErrFormat)
	}
	b, err := base64.StdEncoding.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("invalid base64 for commitment: %w", errs.ErrFormat)
	}
	d, err := Decode(b)
	if err != nil {
		return err
	}
	*c = d
	return nil
}
