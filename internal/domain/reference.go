package domain

import (
	"regexp"
	"strings"
)

// RefField selects which value of an artifact a reference resolves to
type RefField string

const (
	RefAddress        RefField = "address"
	RefImplementation RefField = "implementation"
)

// Ref points at a field of an artifact produced earlier in a plan
type Ref struct {
	Name  string
	Field RefField
}

func (r Ref) String() string {
	return r.Name + "." + string(r.Field)
}

var refPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_-]*)\.(address|implementation)$`)

// ParseRef recognises "Name.address" and "Name.implementation" argument values
func ParseRef(value string) (Ref, bool) {
	m := refPattern.FindStringSubmatch(value)
	if m == nil {
		return Ref{}, false
	}
	return Ref{Name: m[1], Field: RefField(m[2])}, true
}

// ArtifactName strips an optional ".address" suffix from a target or proxy field
func ArtifactName(value string) string {
	return strings.TrimSuffix(value, "."+string(RefAddress))
}
