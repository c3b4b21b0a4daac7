package abi

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// scientific matches "1000000e18" and "1.5e18"
var scientific = regexp.MustCompile(`^(-?\d+)(?:\.(\d+))?[eE](\d+)$`)

// CoerceArgs converts plan values into the Go types go-ethereum packs for inputs
func CoerceArgs(inputs abi.Arguments, values []any) ([]any, error) {
	if len(inputs) != len(values) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(values))
	}
	out := make([]any, len(values))
	for i, input := range inputs {
		v, err := Coerce(input.Type, values[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, input.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

// Coerce converts a single plan value to the Go representation of t
func Coerce(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %v", v)
		}
		return common.HexToAddress(s), nil

	case abi.IntTy, abi.UintTy:
		n, err := ParseInteger(v)
		if err != nil {
			return nil, err
		}
		return fitInteger(t, n)

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, fmt.Errorf("invalid bool %v", v)

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil

	case abi.BytesTy:
		return decodeHex(v)

	case abi.FixedBytesTy:
		b, err := decodeHex(v)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", v)
		}
		if t.T == abi.ArrayTy && len(list) != t.Size {
			return nil, fmt.Errorf("expected %d elements, got %d", t.Size, len(list))
		}
		var container reflect.Value
		if t.T == abi.SliceTy {
			container = reflect.MakeSlice(t.GetType(), len(list), len(list))
		} else {
			container = reflect.New(t.GetType()).Elem()
		}
		for i, e := range list {
			ev, err := Coerce(*t.Elem, e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			container.Index(i).Set(reflect.ValueOf(ev))
		}
		return container.Interface(), nil

	case abi.TupleTy:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected tuple as list, got %T", v)
		}
		if len(list) != len(t.TupleElems) {
			return nil, fmt.Errorf("expected %d tuple fields, got %d", len(t.TupleElems), len(list))
		}
		tuple := reflect.New(t.GetType()).Elem()
		for i, elem := range t.TupleElems {
			ev, err := Coerce(*elem, list[i])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", t.TupleRawNames[i], err)
			}
			tuple.Field(i).Set(reflect.ValueOf(ev))
		}
		return tuple.Interface(), nil
	}

	return nil, fmt.Errorf("unsupported type %s", t.String())
}

// ParseInteger accepts Go integers, integral floats, json.Number and
// strings in decimal, 0x hex or <int>e<exp> scientific form.
func ParseInteger(v any) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return nil, fmt.Errorf("%v is not an exact integer; quote large values", n)
		}
		return big.NewInt(int64(n)), nil
	case json.Number:
		return parseIntegerString(n.String())
	case string:
		return parseIntegerString(n)
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func parseIntegerString(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")

	if m := scientific.FindStringSubmatch(s); m != nil {
		mantissa, frac, expStr := m[1], m[2], m[3]
		var exp int
		if _, err := fmt.Sscan(expStr, &exp); err != nil || exp > 77 {
			return nil, fmt.Errorf("invalid exponent in %q", s)
		}
		if len(frac) > exp {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		n, ok := new(big.Int).SetString(mantissa+frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp-len(frac))), nil)
		return n.Mul(n, scale), nil
	}

	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// fitInteger range-checks n against t and returns the Go type go-ethereum expects
func fitInteger(t abi.Type, n *big.Int) (any, error) {
	bits := t.Size
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for %s", n, t.String())
		}
		if n.BitLen() > bits {
			return nil, fmt.Errorf("value %s overflows %s", n, t.String())
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		minVal := new(big.Int).Neg(limit)
		if n.Cmp(limit) >= 0 || n.Cmp(minVal) < 0 {
			return nil, fmt.Errorf("value %s overflows %s", n, t.String())
		}
	}

	goType := t.GetType()
	switch goType.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return n, nil
}

func decodeHex(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected 0x-prefixed hex, got %T", v)
	}
	if s == "0x" || s == "" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
