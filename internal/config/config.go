// Package config implements spec §4.A: typed, deep-merged configuration for
// processor instances, plus the environment-driven path resolution of
// spec §4.A/§6.
//
// Grounded on cellorg/internal/config.go (Load/defaults/validate shape) and
// cellorg/public/agent/config.go (StandardConfigResolver tiered resolution),
// with the deep-merge and fatal-exit-code semantics taken directly from
// original_source/lib/config.py and
// original_source/lib/processor/abstractProcessor.py.load_config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Map is the generic merged configuration representation; leaves are
// arbitrary YAML-decoded values (string, int, bool, []interface{}, Map).
type Map map[string]interface{}

// ConfigLoadError wraps a failure to read or parse a config file.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("config: load %s: %v", e.Path, e.Err)
}
func (e *ConfigLoadError) Unwrap() error { return e.Err }

// ConfigInvalid signals a structurally loaded but semantically invalid
// per-processor config (missing name/parameters, or name mismatch).
type ConfigInvalid struct {
	Path   string
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Path, e.Reason)
}

// Paths holds the resolved directory layout, per spec §4.A/§6.
type Paths struct {
	RootDir      string
	ConfigDir    string
	GlobalConfig string
	ProcessorDir string
	WorkflowFile string
}

// ResolvePaths applies the ROOT_DIR/CONFIG_DIR resolution rules. rootFlag,
// when non-empty, wins over YELLOWSUB_ROOT_DIR; YELLOWSUB_TEST switches the
// global config filename to config_test.yml, matching the original's
// test-mode convention.
func ResolvePaths(rootFlag string) Paths {
	root := rootFlag
	if root == "" {
		root = os.Getenv("YELLOWSUB_ROOT_DIR")
	}
	if root == "" {
		home, _ := os.UserHomeDir()
		root = filepath.Join(home, "yellowsub")
	}

	configDir := os.Getenv("YELLOWSUB_CONFIG_DIR")
	if configDir == "" {
		configDir = filepath.Join(root, "etc")
	}

	globalName := "config.yml"
	if os.Getenv("YELLOWSUB_TEST") != "" {
		globalName = "config_test.yml"
	}

	return Paths{
		RootDir:      root,
		ConfigDir:    configDir,
		GlobalConfig: filepath.Join(configDir, globalName),
		ProcessorDir: filepath.Join(configDir, "processors"),
		WorkflowFile: filepath.Join(configDir, "workflow.yml"),
	}
}

// Load reads a single YAML document from path into a Map.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// LoadProcessorConfig loads and validates a per-processor config file
// (ProcessorDir/<name>.yml). A missing file is not an error — processors
// without overrides simply inherit the global config — but a present-but-
// invalid file is ConfigInvalid.
func LoadProcessorConfig(paths Paths, name string) (Map, error) {
	path := filepath.Join(paths.ProcessorDir, name+".yml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Map{}, nil
	}
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := validateSpecific(path, m, name); err != nil {
		return nil, err
	}
	return m, nil
}

func validateSpecific(path string, m Map, name string) error {
	gotName, ok := m["name"]
	if !ok {
		return &ConfigInvalid{Path: path, Reason: "missing 'name'"}
	}
	if s, ok := gotName.(string); !ok || s != name {
		return &ConfigInvalid{Path: path, Reason: fmt.Sprintf("name %q does not match processor %q", gotName, name)}
	}
	if _, ok := m["parameters"]; !ok {
		return &ConfigInvalid{Path: path, Reason: "missing 'parameters'"}
	}
	return nil
}

// LoadMerged loads the global config and deep-merges the named processor's
// specific config over it, returning the final effective Map. Exit-code
// semantics are the caller's responsibility (see cmd/processor), matching
// spec's ConfigLoadError (fatal, 255) / ConfigInvalid (fatal, 254) kinds.
func LoadMerged(paths Paths, processorName string) (Map, error) {
	global, err := Load(paths.GlobalConfig)
	if err != nil {
		return nil, err
	}
	specific, err := LoadProcessorConfig(paths, processorName)
	if err != nil {
		return nil, err
	}
	return DeepMerge(global, specific), nil
}

// DeepMerge merges override onto base: mappings merge recursively, lists
// and scalars in override replace the corresponding base value, and keys
// absent from override keep base's value. base is not mutated.
func DeepMerge(base, override Map) Map {
	result := make(Map, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, ov := range override {
		bv, exists := result[k]
		if !exists {
			result[k] = ov
			continue
		}
		bm, bIsMap := asMap(bv)
		om, oIsMap := asMap(ov)
		if bIsMap && oIsMap {
			result[k] = DeepMerge(bm, om)
		} else {
			result[k] = ov
		}
	}
	return result
}

func asMap(v interface{}) (Map, bool) {
	switch m := v.(type) {
	case Map:
		return m, true
	case map[string]interface{}:
		return Map(m), true
	default:
		return nil, false
	}
}

// GetString/GetBool/GetInt are convenience accessors mirroring
// cellorg/public/agent/base.go's GetConfigString/Bool/Int helpers, generalized
// to work over a plain Map instead of a BaseAgent.

func GetString(m Map, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func GetBool(m Map, key string, def bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func GetInt(m Map, key string, def int) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// Sub returns the nested Map at key, or an empty Map if absent/wrong type.
func Sub(m Map, key string) Map {
	if v, ok := m[key]; ok {
		if sm, ok := asMap(v); ok {
			return sm
		}
	}
	return Map{}
}
