package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// StepKind discriminates the variants of a plan step
type StepKind string

const (
	StepDeploy       StepKind = "deploy"
	StepDeployProxy  StepKind = "deploy_proxy"
	StepUpgradeProxy StepKind = "upgrade_proxy"
	StepCall         StepKind = "call"
)

// DefaultInitializer is the initializer invoked on a freshly deployed proxy
const DefaultInitializer = "initialize"

// Valid reports whether k is a known step kind
func (k StepKind) Valid() bool {
	switch k {
	case StepDeploy, StepDeployProxy, StepUpgradeProxy, StepCall:
		return true
	}
	return false
}

// Step is a single action in a deployment plan. Which fields are meaningful
// depends on Kind:
//
//	deploy:        Contract, Name, Args (constructor)
//	deploy_proxy:  Contract, Name, Initializer, Args (initializer)
//	upgrade_proxy: Proxy, Contract (new implementation)
//	call:          Target, Contract (ABI override), Method, Args
type Step struct {
	Kind        StepKind `json:"kind"`
	Contract    string   `json:"contract,omitempty"`
	Name        string   `json:"name,omitempty"`
	Initializer string   `json:"initializer,omitempty"`
	Proxy       string   `json:"proxy,omitempty"`
	Target      string   `json:"target,omitempty"`
	Method      string   `json:"method,omitempty"`
	Args        []any    `json:"args,omitempty"`
}

// NewDeployStep creates a plain contract deployment step
func NewDeployStep(contract string, args ...any) Step {
	return Step{Kind: StepDeploy, Contract: contract, Args: args}
}

// NewDeployProxyStep creates a proxied deployment step with the default initializer
func NewDeployProxyStep(contract string, initArgs ...any) Step {
	return Step{Kind: StepDeployProxy, Contract: contract, Initializer: DefaultInitializer, Args: initArgs}
}

// NewUpgradeProxyStep creates a step pointing an existing proxy at a new implementation
func NewUpgradeProxyStep(proxy, contract string) Step {
	return Step{Kind: StepUpgradeProxy, Proxy: proxy, Contract: contract}
}

// NewCallStep creates a state-changing call step
func NewCallStep(target, method string, args ...any) Step {
	return Step{Kind: StepCall, Target: target, Method: method, Args: args}
}

// Named returns a copy of the step with an explicit logical name
func (s Step) Named(name string) Step {
	s.Name = name
	return s
}

// Produces reports whether the step creates a new artifact
func (s Step) Produces() bool {
	return s.Kind == StepDeploy || s.Kind == StepDeployProxy
}

// LogicalName is the artifact name a deploy step registers. Empty for
// steps that do not produce an artifact.
func (s Step) LogicalName() string {
	if !s.Produces() {
		return ""
	}
	if s.Name != "" {
		return s.Name
	}
	return s.Contract
}

// Normalize fills defaults and strips reference suffixes so that two
// spellings of the same step compare (and hash) equal.
func (s Step) Normalize() Step {
	n := s
	if n.Kind == StepDeployProxy && n.Initializer == "" {
		n.Initializer = DefaultInitializer
	}
	if n.Proxy != "" {
		n.Proxy = ArtifactName(n.Proxy)
	}
	if n.Target != "" {
		n.Target = ArtifactName(n.Target)
	}
	if len(n.Args) == 0 {
		n.Args = nil
	}
	return n
}

// Hash returns the structural identity of the step: keccak256 over the
// canonical JSON encoding of the normalized step.
func (s Step) Hash() (string, error) {
	data, err := json.Marshal(s.Normalize())
	if err != nil {
		return "", fmt.Errorf("failed to encode step: %w", err)
	}
	return crypto.Keccak256Hash(data).Hex(), nil
}

// References returns the artifact references the step depends on, in the
// order they appear.
func (s Step) References() []Ref {
	var refs []Ref
	switch s.Kind {
	case StepUpgradeProxy:
		refs = append(refs, Ref{Name: ArtifactName(s.Proxy), Field: RefAddress})
	case StepCall:
		refs = append(refs, Ref{Name: ArtifactName(s.Target), Field: RefAddress})
	}
	walkArgs(s.Args, func(v string) {
		if ref, ok := ParseRef(v); ok {
			refs = append(refs, ref)
		}
	})
	return refs
}

// Describe renders a short human readable form of the step
func (s Step) Describe() string {
	switch s.Kind {
	case StepDeploy:
		if s.Name != "" && s.Name != s.Contract {
			return fmt.Sprintf("deploy %s as %s%s", s.Contract, s.Name, describeArgs(s.Args))
		}
		return fmt.Sprintf("deploy %s%s", s.Contract, describeArgs(s.Args))
	case StepDeployProxy:
		n := s.Normalize()
		label := s.Contract
		if s.Name != "" && s.Name != s.Contract {
			label = fmt.Sprintf("%s as %s", s.Contract, s.Name)
		}
		return fmt.Sprintf("deploy proxy %s via %s%s", label, n.Initializer, describeArgs(s.Args))
	case StepUpgradeProxy:
		return fmt.Sprintf("upgrade %s to %s", ArtifactName(s.Proxy), s.Contract)
	case StepCall:
		return fmt.Sprintf("call %s.%s%s", ArtifactName(s.Target), s.Method, describeArgs(s.Args))
	default:
		return string(s.Kind)
	}
}

func describeArgs(args []any) string {
	if len(args) == 0 {
		return "()"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// walkArgs visits every string leaf in a (possibly nested) argument list
func walkArgs(args []any, fn func(string)) {
	for _, a := range args {
		switch v := a.(type) {
		case string:
			fn(v)
		case []any:
			walkArgs(v, fn)
		case []string:
			for _, s := range v {
				fn(s)
			}
		}
	}
}

// MapArgs returns a deep copy of args with every string leaf replaced by fn
func MapArgs(args []any, fn func(string) (any, error)) ([]any, error) {
	if args == nil {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			mapped, err := fn(v)
			if err != nil {
				return nil, err
			}
			out[i] = mapped
		case []any:
			mapped, err := MapArgs(v, fn)
			if err != nil {
				return nil, err
			}
			out[i] = mapped
		case []string:
			inner := make([]any, len(v))
			for j, s := range v {
				inner[j] = s
			}
			mapped, err := MapArgs(inner, fn)
			if err != nil {
				return nil, err
			}
			out[i] = mapped
		default:
			out[i] = a
		}
	}
	return out, nil
}
