package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR_NAME} patterns in TOML values
var envVarPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// DetectEnvVar checks if a raw TOML value is a simple ${VAR_NAME} reference.
// Returns the variable name and true if the value is a pure env var reference.
func DetectEnvVar(rawValue string) (string, bool) {
	matches := envVarPattern.FindStringSubmatch(rawValue)
	if len(matches) == 2 {
		return matches[1], true
	}
	return "", false
}

// GenerateEnvVarName generates a conventional env var name for a network's RPC URL.
// Examples: sepolia -> SEPOLIA_RPC_URL, celo-sepolia -> CELO_SEPOLIA_RPC_URL
func GenerateEnvVarName(networkName string) string {
	name := strings.ToUpper(networkName)
	name = strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return name + "_RPC_URL"
}

// resolveRPCEndpoint expands a foundry.toml endpoint. Networks missing from
// [rpc_endpoints] fall back to the conventional <NETWORK>_RPC_URL variable.
func resolveRPCEndpoint(name string, endpoints map[string]string) (string, error) {
	raw, ok := endpoints[name]
	if !ok {
		envName := GenerateEnvVarName(name)
		if url := os.Getenv(envName); url != "" {
			return url, nil
		}
		return "", fmt.Errorf("network '%s' not found in foundry.toml [rpc_endpoints] and %s is not set", name, envName)
	}

	if envName, isRef := DetectEnvVar(raw); isRef {
		url := os.Getenv(envName)
		if url == "" {
			return "", fmt.Errorf("network '%s' RPC URL comes from ${%s}, which is not set", name, envName)
		}
		return url, nil
	}
	return os.ExpandEnv(raw), nil
}
