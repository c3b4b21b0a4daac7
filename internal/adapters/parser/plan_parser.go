package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
	"gopkg.in/yaml.v3"
)

// PlanParser reads plan files in YAML, TOML or JSON
type PlanParser struct{}

// NewPlanParser creates a new plan parser
func NewPlanParser() *PlanParser {
	return &PlanParser{}
}

// planFile is the on-disk shape shared by every supported format
type planFile struct {
	Name    string          `yaml:"name" toml:"name" json:"name"`
	Imports []domain.Import `yaml:"imports" toml:"imports" json:"imports"`
	Steps   []stepSpec      `yaml:"steps" toml:"steps" json:"steps"`
}

// stepSpec holds exactly one step variant keyed by its kind
type stepSpec struct {
	Deploy       *deploySpec  `yaml:"deploy" toml:"deploy" json:"deploy"`
	DeployProxy  *deploySpec  `yaml:"deploy_proxy" toml:"deploy_proxy" json:"deploy_proxy"`
	UpgradeProxy *upgradeSpec `yaml:"upgrade_proxy" toml:"upgrade_proxy" json:"upgrade_proxy"`
	Call         *callSpec    `yaml:"call" toml:"call" json:"call"`
}

type deploySpec struct {
	Contract    string `yaml:"contract" toml:"contract" json:"contract"`
	Name        string `yaml:"name" toml:"name" json:"name"`
	Initializer string `yaml:"initializer" toml:"initializer" json:"initializer"`
	Args        []any  `yaml:"args" toml:"args" json:"args"`
}

type upgradeSpec struct {
	Proxy    string `yaml:"proxy" toml:"proxy" json:"proxy"`
	Contract string `yaml:"contract" toml:"contract" json:"contract"`
}

type callSpec struct {
	Target   string `yaml:"target" toml:"target" json:"target"`
	Contract string `yaml:"contract" toml:"contract" json:"contract"`
	Method   string `yaml:"method" toml:"method" json:"method"`
	Args     []any  `yaml:"args" toml:"args" json:"args"`
}

// Load reads and decodes the plan at path. The format is chosen by extension.
func (p *PlanParser) Load(_ context.Context, path string) (*domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var file planFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &file)
	case ".toml":
		err = decodeTOML(data, &file)
	case ".json":
		err = decodeJSON(data, &file)
	default:
		return nil, fmt.Errorf("%w: unsupported plan format %q", domain.ErrInvalidPlan, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", domain.ErrInvalidPlan, filepath.Base(path), err)
	}

	plan, err := file.toPlan()
	if err != nil {
		return nil, err
	}
	if plan.Name == "" {
		plan.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return plan, nil
}

func decodeYAML(data []byte, out *planFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(data []byte, out *planFile) error {
	md, err := toml.Decode(string(data), out)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown field %q", undecoded[0].String())
	}
	return nil
}

func decodeJSON(data []byte, out *planFile) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	// Keep large integers exact
	dec.UseNumber()
	return dec.Decode(out)
}

func (f *planFile) toPlan() (*domain.Plan, error) {
	plan := &domain.Plan{
		Name:    f.Name,
		Imports: f.Imports,
		Steps:   make([]domain.Step, 0, len(f.Steps)),
	}

	for i, spec := range f.Steps {
		step, err := spec.toStep()
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", domain.ErrInvalidPlan, i+1, err)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

func (s stepSpec) toStep() (domain.Step, error) {
	var (
		step  domain.Step
		kinds []string
		err   error
	)

	if s.Deploy != nil {
		kinds = append(kinds, string(domain.StepDeploy))
		step = domain.Step{Kind: domain.StepDeploy, Contract: s.Deploy.Contract, Name: s.Deploy.Name}
		if s.Deploy.Initializer != "" {
			return step, fmt.Errorf("deploy does not take an initializer")
		}
		step.Args, err = normalizeArgs(s.Deploy.Args)
	}
	if s.DeployProxy != nil {
		kinds = append(kinds, string(domain.StepDeployProxy))
		step = domain.Step{
			Kind:        domain.StepDeployProxy,
			Contract:    s.DeployProxy.Contract,
			Name:        s.DeployProxy.Name,
			Initializer: s.DeployProxy.Initializer,
		}
		step.Args, err = normalizeArgs(s.DeployProxy.Args)
	}
	if s.UpgradeProxy != nil {
		kinds = append(kinds, string(domain.StepUpgradeProxy))
		step = domain.Step{Kind: domain.StepUpgradeProxy, Proxy: s.UpgradeProxy.Proxy, Contract: s.UpgradeProxy.Contract}
	}
	if s.Call != nil {
		kinds = append(kinds, string(domain.StepCall))
		step = domain.Step{Kind: domain.StepCall, Target: s.Call.Target, Contract: s.Call.Contract, Method: s.Call.Method}
		step.Args, err = normalizeArgs(s.Call.Args)
	}

	switch len(kinds) {
	case 0:
		return step, fmt.Errorf("%w: expected one of deploy, deploy_proxy, upgrade_proxy, call", domain.ErrUnknownStepKind)
	case 1:
		return step.Normalize(), err
	default:
		return step, fmt.Errorf("step declares more than one kind: %s", strings.Join(kinds, ", "))
	}
}

// normalizeArgs converts decoder specific values into the small set of
// types steps carry: string, bool, integers, floats, json.Number and
// nested []any.
func normalizeArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		v, err := normalizeArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func normalizeArg(a any) (any, error) {
	switch v := a.(type) {
	case string, bool, json.Number:
		return v, nil
	case int:
		return int64(v), nil
	case int64, uint64, float64:
		return v, nil
	case []any:
		inner := make([]any, len(v))
		for i, e := range v {
			n, err := normalizeArg(e)
			if err != nil {
				return nil, err
			}
			inner[i] = n
		}
		return inner, nil
	case nil:
		return nil, fmt.Errorf("null is not a valid argument")
	default:
		return nil, fmt.Errorf("unsupported argument type %T", a)
	}
}

// Ensure PlanParser implements PlanLoader
var _ usecase.PlanLoader = (*PlanParser)(nil)
