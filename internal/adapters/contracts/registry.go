package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
)

// Artifact is a compiled contract ready to deploy or call
type Artifact struct {
	Name     string
	Source   string
	Path     string
	ABI      abi.ABI
	Bytecode []byte
}

// Registry finds compiled artifacts in a Foundry out/ or Hardhat
// artifacts/ directory. The directory is indexed once on first use.
type Registry struct {
	dir string

	once    sync.Once
	err     error
	byName  map[string][]string // contract name -> artifact paths
	byQName map[string]string   // "Source.sol:Name" -> artifact path

	mu    sync.Mutex
	cache map[string]*Artifact
}

// NewRegistry creates a registry over the configured artifacts directory
func NewRegistry(cfg *config.RuntimeConfig) *Registry {
	return &Registry{
		dir:   cfg.ArtifactsDir,
		cache: make(map[string]*Artifact),
	}
}

// Get returns the artifact for name, which may be a bare contract name or
// "Source.sol:Name" when several sources define the same contract.
func (r *Registry) Get(name string) (*Artifact, error) {
	r.once.Do(func() { r.err = r.index() })
	if r.err != nil {
		return nil, r.err
	}

	path, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache[path]; ok {
		return a, nil
	}

	a, err := loadArtifact(path)
	if err != nil {
		return nil, err
	}
	r.cache[path] = a
	return a, nil
}

// Names lists every indexed contract name
func (r *Registry) Names() []string {
	r.once.Do(func() { r.err = r.index() })
	names := lo.Keys(r.byName)
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (string, error) {
	if strings.Contains(name, ":") {
		if path, ok := r.byQName[name]; ok {
			return path, nil
		}
		return "", r.notFound(name)
	}

	paths := r.byName[name]
	switch len(paths) {
	case 0:
		return "", r.notFound(name)
	case 1:
		return paths[0], nil
	}

	qualified := lo.FilterMap(lo.Keys(r.byQName), func(q string, _ int) (string, bool) {
		return q, strings.HasSuffix(q, ":"+name)
	})
	sort.Strings(qualified)
	return "", fmt.Errorf("contract %s is ambiguous, use one of: %s", name, strings.Join(qualified, ", "))
}

func (r *Registry) notFound(name string) error {
	bare := name
	if i := strings.LastIndex(name, ":"); i >= 0 {
		bare = name[i+1:]
	}
	matches := fuzzy.Find(bare, lo.Keys(r.byName))
	suggestions := lo.Map(lo.Slice(matches, 0, 3), func(m fuzzy.Match, _ int) string { return m.Str })
	if len(suggestions) == 0 {
		return fmt.Errorf("%w: %s (searched %s)", domain.ErrContractNotFound, name, r.dir)
	}
	return fmt.Errorf("%w: %s (did you mean %s?)", domain.ErrContractNotFound, name, strings.Join(suggestions, ", "))
}

// index walks the artifacts directory recording <Source.sol>/<Name>.json files
func (r *Registry) index() error {
	r.byName = make(map[string][]string)
	r.byQName = make(map[string]string)

	if r.dir == "" {
		return fmt.Errorf("no artifacts directory configured")
	}
	if _, err := os.Stat(r.dir); err != nil {
		return fmt.Errorf("artifacts directory %s: %w", r.dir, err)
	}

	return filepath.WalkDir(r.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		source := filepath.Base(filepath.Dir(path))
		if !strings.HasSuffix(source, ".sol") && !strings.HasSuffix(source, ".vy") {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		// Foundry writes Name.<solc-version>.json when several compilers are used
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[:i]
		}

		qname := source + ":" + name
		if _, dup := r.byQName[qname]; dup {
			return nil
		}
		r.byQName[qname] = path
		r.byName[name] = append(r.byName[name], path)
		return nil
	})
}

// loadArtifact parses a Foundry or Hardhat artifact
func loadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var raw struct {
		ABI          json.RawMessage `json:"abi"`
		Bytecode     json.RawMessage `json:"bytecode"`
		ContractName string          `json:"contractName"`
		SourceName   string          `json:"sourceName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}

	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI in %s: %w", path, err)
	}

	code, err := parseBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	source := raw.SourceName
	if source == "" {
		source = filepath.Base(filepath.Dir(path))
	}

	return &Artifact{
		Name:     name,
		Source:   source,
		Path:     path,
		ABI:      parsed,
		Bytecode: code,
	}, nil
}

// parseBytecode accepts Hardhat's plain hex string and Foundry's {"object": "0x..."}
func parseBytecode(raw json.RawMessage) ([]byte, error) {
	var hexCode string
	if err := json.Unmarshal(raw, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("unrecognised bytecode field")
		}
		hexCode = obj.Object
	}

	if !strings.HasPrefix(hexCode, "0x") {
		hexCode = "0x" + hexCode
	}
	if strings.Contains(hexCode, "__") {
		return nil, fmt.Errorf("bytecode has unlinked libraries")
	}
	code, err := hexutil.Decode(hexCode)
	if err != nil && hexCode != "0x" {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	return code, nil
}
