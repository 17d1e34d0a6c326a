// Package config loads and validates the optional .loadmatrix file that
// describes the loader/runtime matrix.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File names searched at the project root, in order of precedence.
const (
	FileName    = ".loadmatrix"
	HCLFileName = ".loadmatrix.hcl"
)

// Default values for the matrix and the runner.
const (
	DefaultEntry       = "fixtures/basic/index.mjs"
	DefaultLoaderEnv   = "IMPORTX_LOADER"
	DefaultResults     = "test/table.json"
	DefaultDocument    = "README.md"
	DefaultManifest    = "package.json"
	DefaultStartMarker = "<!-- TABLE_START -->"
	DefaultEndMarker   = "<!-- TABLE_END -->"
	DefaultMaxOutput   = 1 << 20 // 1 MB

	// NativeLoader is the loader that runs on every runtime.
	NativeLoader = "native"
)

// DefaultLoaders are used when no loaders are configured.
var DefaultLoaders = []string{NativeLoader, "tsx", "jiti", "bundle-require"}

// DefaultRuntimes are used when no runtimes are configured. The first entry
// is the primary runtime unless Primary says otherwise.
var DefaultRuntimes = []Runtime{
	{Name: "node", Command: "node"},
	{Name: "tsx", Command: "npx tsx"},
	{Name: "deno", Command: "deno run --allow-read --allow-env --allow-write --allow-run"},
	{Name: "bun", Command: "bun"},
}

// Config holds the parsed .loadmatrix configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int       `yaml:"version"`
	Entry        string    `yaml:"entry"`      // entry point, relative to the project root
	LoaderEnv    string    `yaml:"loader_env"` // variable carrying the loader to the child
	Loaders      []string  `yaml:"loaders"`
	Primary      string    `yaml:"primary"`
	Runtimes     []Runtime `yaml:"runtimes"`
	Results      string    `yaml:"results"`  // results JSON file
	Document     string    `yaml:"document"` // markdown document holding the table
	Manifest     string    `yaml:"manifest"` // JSON manifest with a "version" field
	Markers      Markers   `yaml:"markers"`
	RawTimeout   string    `yaml:"timeout"`    // e.g. "2m"; empty means unbounded
	RawMaxOutput int       `yaml:"max_output"` // bytes
}

// Runtime maps a runtime identifier to its launch command.
type Runtime struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"` // e.g. "npx tsx"
	Env     map[string]string `yaml:"env"`     // extra variables for this runtime only
}

// Markers delimit the generated region of the document.
type Markers struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// LoaderList returns the configured loaders or the defaults.
func (c *Config) LoaderList() []string {
	if len(c.Loaders) > 0 {
		return c.Loaders
	}
	return DefaultLoaders
}

// RuntimeList returns the configured runtimes or the defaults.
func (c *Config) RuntimeList() []Runtime {
	if len(c.Runtimes) > 0 {
		return c.Runtimes
	}
	return DefaultRuntimes
}

// RuntimeNames returns the runtime identifiers in configured order.
func (c *Config) RuntimeNames() []string {
	rts := c.RuntimeList()
	names := make([]string, len(rts))
	for i, rt := range rts {
		names[i] = rt.Name
	}
	return names
}

// Runtime looks up a runtime by name.
func (c *Config) Runtime(name string) (Runtime, bool) {
	for _, rt := range c.RuntimeList() {
		if rt.Name == name {
			return rt, true
		}
	}
	return Runtime{}, false
}

// PrimaryRuntime returns the configured primary runtime, falling back to
// the first runtime in the list.
func (c *Config) PrimaryRuntime() string {
	if c.Primary != "" {
		return c.Primary
	}
	rts := c.RuntimeList()
	if len(rts) == 0 {
		return ""
	}
	return rts[0].Name
}

// LoaderVar returns the environment variable name used to select a loader.
func (c *Config) LoaderVar() string {
	if c.LoaderEnv != "" {
		return c.LoaderEnv
	}
	return DefaultLoaderEnv
}

// EntryFile returns the entry point path relative to the project root.
func (c *Config) EntryFile() string {
	return orDefault(c.Entry, DefaultEntry)
}

// ResultsFile returns the results file path relative to the project root.
func (c *Config) ResultsFile() string {
	return orDefault(c.Results, DefaultResults)
}

// DocumentFile returns the document path relative to the project root.
func (c *Config) DocumentFile() string {
	return orDefault(c.Document, DefaultDocument)
}

// ManifestFile returns the manifest path relative to the project root.
func (c *Config) ManifestFile() string {
	return orDefault(c.Manifest, DefaultManifest)
}

// StartMarker returns the opening marker of the generated region.
func (c *Config) StartMarker() string {
	return orDefault(c.Markers.Start, DefaultStartMarker)
}

// EndMarker returns the closing marker of the generated region.
func (c *Config) EndMarker() string {
	return orDefault(c.Markers.End, DefaultEndMarker)
}

// Timeout returns the per-child timeout. Zero means the child may run
// for as long as it likes.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// ValidationError reports a configuration field that cannot be used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the effective (defaulted) configuration.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	hasNative := false
	for _, l := range c.LoaderList() {
		if l == "" {
			return &ValidationError{Field: "loaders", Reason: "empty loader name"}
		}
		if seen[l] {
			return &ValidationError{Field: "loaders", Reason: fmt.Sprintf("duplicate loader %q", l)}
		}
		seen[l] = true
		if l == NativeLoader {
			hasNative = true
		}
	}
	if !hasNative {
		return &ValidationError{Field: "loaders", Reason: fmt.Sprintf("must include %q", NativeLoader)}
	}

	seen = make(map[string]bool)
	for _, rt := range c.RuntimeList() {
		if rt.Name == "" {
			return &ValidationError{Field: "runtimes", Reason: "empty runtime name"}
		}
		if seen[rt.Name] {
			return &ValidationError{Field: "runtimes", Reason: fmt.Sprintf("duplicate runtime %q", rt.Name)}
		}
		seen[rt.Name] = true
		if rt.Command == "" {
			return &ValidationError{Field: "runtimes", Reason: fmt.Sprintf("runtime %q has no command", rt.Name)}
		}
	}
	if primary := c.PrimaryRuntime(); !seen[primary] {
		return &ValidationError{Field: "primary", Reason: fmt.Sprintf("runtime %q is not configured", primary)}
	}

	if c.StartMarker() == c.EndMarker() {
		return &ValidationError{Field: "markers", Reason: "start and end markers must differ"}
	}
	if c.RawTimeout != "" {
		if _, err := time.ParseDuration(c.RawTimeout); err != nil {
			return &ValidationError{Field: "timeout", Reason: err.Error()}
		}
	}
	return nil
}

// LoadResult holds the parsed config and the discovered project root.
type LoadResult struct {
	Config      *Config
	ProjectRoot string // directory containing package.json; falls back to workspace
	Path        string // config file that was read, empty when defaults are used
}

// Load reads the configuration from the project root. The project root is
// discovered by walking upward from workspace looking for package.json.
// A YAML .loadmatrix file takes precedence over .loadmatrix.hcl. If neither
// exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findProjectRoot(workspace)
	if err != nil {
		// No package.json found; use workspace as root.
		root, err = filepath.Abs(workspace)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace: %w", err)
		}
	}

	cfg, path, err := readConfig(root)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", displayName(path), err)
	}
	return &LoadResult{Config: cfg, ProjectRoot: root, Path: path}, nil
}

func readConfig(root string) (*Config, string, error) {
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg := &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("parsing %s: %w", FileName, err)
		}
		return cfg, path, nil
	case !os.IsNotExist(err):
		return nil, "", fmt.Errorf("reading %s: %w", FileName, err)
	}

	path = filepath.Join(root, HCLFileName)
	data, err = os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err := parseHCL(data, HCLFileName)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	case !os.IsNotExist(err):
		return nil, "", fmt.Errorf("reading %s: %w", HCLFileName, err)
	}

	return &Config{}, "", nil
}

func displayName(path string) string {
	if path == "" {
		return "default config"
	}
	return filepath.Base(path)
}

// findProjectRoot walks upward from dir looking for a directory containing package.json.
func findProjectRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, DefaultManifest)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", DefaultManifest)
		}
		dir = parent
	}
}

// ErrNoVersion is returned when the manifest has no version field.
var ErrNoVersion = errors.New("manifest has no version")

// ManifestVersion reads the "version" field of a JSON manifest such as package.json.
func ManifestVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading manifest: %w", err)
	}
	var m struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parsing manifest %s: %w", filepath.Base(path), err)
	}
	if m.Version == "" {
		return "", ErrNoVersion
	}
	return m.Version, nil
}
