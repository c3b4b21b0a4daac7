package abi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseSignature builds a method from a signature like "approve(address,uint256)".
// Tuple parameters are not supported; use the contract ABI for those.
func ParseSignature(sig string) (*abi.Method, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return nil, fmt.Errorf("invalid method signature %q", sig)
	}
	name := sig[:open]
	params := strings.TrimSpace(sig[open+1 : len(sig)-1])
	if strings.ContainsAny(params, "()") {
		return nil, fmt.Errorf("tuple parameters are not supported in signature %q", sig)
	}

	var inputs abi.Arguments
	if params != "" {
		for i, raw := range strings.Split(params, ",") {
			// Allow "address spender" style parameter names
			fields := strings.Fields(raw)
			if len(fields) == 0 {
				return nil, fmt.Errorf("empty parameter %d in signature %q", i+1, sig)
			}
			typ, err := abi.NewType(fields[0], "", nil)
			if err != nil {
				return nil, fmt.Errorf("signature %q: %w", sig, err)
			}
			arg := abi.Argument{Type: typ}
			if len(fields) > 1 {
				arg.Name = fields[len(fields)-1]
			}
			inputs = append(inputs, arg)
		}
	}

	method := abi.NewMethod(name, name, abi.Function, "nonpayable", false, false, inputs, nil)
	return &method, nil
}

// FindMethod resolves a method by full signature or by bare name and
// argument count. contractABI may be nil when method is a full signature.
func FindMethod(contractABI *abi.ABI, method string, nargs int) (*abi.Method, error) {
	if strings.Contains(method, "(") {
		parsed, err := ParseSignature(method)
		if err != nil {
			return nil, err
		}
		// Prefer the ABI entry for its parameter names
		if contractABI != nil {
			for _, m := range contractABI.Methods {
				if m.Sig == parsed.Sig {
					found := m
					return &found, nil
				}
			}
		}
		return parsed, nil
	}

	if contractABI == nil {
		return nil, fmt.Errorf("method %q needs a full signature when the contract ABI is unknown", method)
	}

	var candidates []abi.Method
	var arities []string
	for _, m := range contractABI.Methods {
		if m.RawName != method {
			continue
		}
		arities = append(arities, m.Sig)
		if len(m.Inputs) == nargs {
			candidates = append(candidates, m)
		}
	}
	sort.Strings(arities)

	switch len(candidates) {
	case 1:
		return &candidates[0], nil
	case 0:
		if len(arities) == 0 {
			return nil, fmt.Errorf("method %q not found in ABI", method)
		}
		return nil, fmt.Errorf("no overload of %q takes %d arguments (have %s)", method, nargs, strings.Join(arities, ", "))
	default:
		return nil, fmt.Errorf("method %q is ambiguous, use a full signature: %s", method, strings.Join(arities, ", "))
	}
}
