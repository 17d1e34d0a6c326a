package config

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclFile is the decoding target for .loadmatrix.hcl. Runtimes are labelled
// blocks so that their order in the file is the matrix order:
//
//	primary = "node"
//	runtime "node" { command = "node" }
//	runtime "deno" { command = "${env.HOME}/.deno/bin/deno run -A" }
type hclFile struct {
	Version   int          `hcl:"version,optional"`
	Entry     string       `hcl:"entry,optional"`
	LoaderEnv string       `hcl:"loader_env,optional"`
	Loaders   []string     `hcl:"loaders,optional"`
	Primary   string       `hcl:"primary,optional"`
	Results   string       `hcl:"results,optional"`
	Document  string       `hcl:"document,optional"`
	Manifest  string       `hcl:"manifest,optional"`
	Timeout   string       `hcl:"timeout,optional"`
	MaxOutput int          `hcl:"max_output,optional"`
	Runtimes  []hclRuntime `hcl:"runtime,block"`
	Markers   *hclMarkers  `hcl:"markers,block"`
}

type hclRuntime struct {
	Name    string            `hcl:"name,label"`
	Command string            `hcl:"command"`
	Env     map[string]string `hcl:"env,optional"`
}

type hclMarkers struct {
	Start string `hcl:"start,optional"`
	End   string `hcl:"end,optional"`
}

func parseHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", filename, diags)
	}

	var root hclFile
	diags = gohcl.DecodeBody(file.Body, evalContext(), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", filename, diags)
	}

	cfg := &Config{
		Version:      root.Version,
		Entry:        root.Entry,
		LoaderEnv:    root.LoaderEnv,
		Loaders:      root.Loaders,
		Primary:      root.Primary,
		Results:      root.Results,
		Document:     root.Document,
		Manifest:     root.Manifest,
		RawTimeout:   root.Timeout,
		RawMaxOutput: root.MaxOutput,
	}
	for _, rt := range root.Runtimes {
		cfg.Runtimes = append(cfg.Runtimes, Runtime{Name: rt.Name, Command: rt.Command, Env: rt.Env})
	}
	if root.Markers != nil {
		cfg.Markers = Markers{Start: root.Markers.Start, End: root.Markers.End}
	}
	return cfg, nil
}

// evalContext exposes the process environment as the "env" object.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !utf8.ValidString(v) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	envVal := cty.EmptyObjectVal
	if len(vars) > 0 {
		envVal = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": envVal},
	}
}
