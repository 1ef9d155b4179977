package flow

import (
	"fmt"
	"math/big"
	"strings"
)

// BigInt is an arbitrary-precision integer that survives JSON round trips
// exactly. Wei-denominated amounts overflow float64 long before 2^256, so the
// value is encoded as a tagged string ("<digits>n") rather than a JSON number.
type BigInt struct {
	value *big.Int
}

// NewBigInt wraps v, copying it. A nil v becomes zero.
func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{value: new(big.Int)}
	}
	return BigInt{value: new(big.Int).Set(v)}
}

// BigIntFromInt64 is a convenience constructor.
func BigIntFromInt64(v int64) BigInt {
	return BigInt{value: big.NewInt(v)}
}

// ParseBigInt parses a decimal string, with or without the "n" tag.
func ParseBigInt(s string) (BigInt, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "n")
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigInt{}, fmt.Errorf("invalid big integer %q", s)
	}
	return BigInt{value: v}, nil
}

// Int returns a copy of the underlying value.
func (b BigInt) Int() *big.Int {
	if b.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.value)
}

// IsZero reports whether the value is unset or zero.
func (b BigInt) IsZero() bool {
	return b.value == nil || b.value.Sign() == 0
}

// Cmp compares b against other.
func (b BigInt) Cmp(other BigInt) int {
	return b.Int().Cmp(other.Int())
}

// Add returns b + other.
func (b BigInt) Add(other BigInt) BigInt {
	return BigInt{value: new(big.Int).Add(b.Int(), other.Int())}
}

// Sub returns b - other.
func (b BigInt) Sub(other BigInt) BigInt {
	return BigInt{value: new(big.Int).Sub(b.Int(), other.Int())}
}

// String renders the plain decimal form.
func (b BigInt) String() string {
	if b.value == nil {
		return "0"
	}
	return b.value.String()
}

// MarshalJSON encodes the value as a tagged decimal string.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `n"`), nil
}

// UnmarshalJSON accepts a tagged string, a plain decimal string, or an
// integral JSON number.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		b.value = new(big.Int)
		return nil
	}
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2 {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseBigInt(s)
	if err != nil {
		return err
	}
	b.value = parsed.value
	return nil
}
