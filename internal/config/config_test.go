package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromProjectRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"x","version":"1.2.3"}`)
	writeFile(t, filepath.Join(dir, FileName), "version: 1\ntimeout: 10m\nloaders: [native, jiti]\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.ProjectRoot != dir {
		t.Errorf("ProjectRoot = %q, want %q", res.ProjectRoot, dir)
	}
	if res.Config.Version != 1 {
		t.Errorf("Config.Version = %d, want 1", res.Config.Version)
	}
	if res.Config.Timeout() != 10*time.Minute {
		t.Errorf("Timeout() = %v, want 10m", res.Config.Timeout())
	}
	if got := res.Config.LoaderList(); len(got) != 2 || got[1] != "jiti" {
		t.Errorf("LoaderList() = %v, want [native jiti]", got)
	}
	if res.Path != filepath.Join(dir, FileName) {
		t.Errorf("Path = %q, want the YAML file", res.Path)
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{}`)
	writeFile(t, filepath.Join(root, FileName), "version: 2\n")

	sub := filepath.Join(root, "fixtures", "basic")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.ProjectRoot != root {
		t.Errorf("ProjectRoot = %q, want %q", res.ProjectRoot, root)
	}
	if res.Config.Version != 2 {
		t.Errorf("Config.Version = %d, want 2", res.Config.Version)
	}
}

func TestLoad_NoManifest(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.ProjectRoot != dir {
		t.Errorf("ProjectRoot = %q, want %q (fallback to workspace)", res.ProjectRoot, dir)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty for defaults", res.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{}`)

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if cfg.PrimaryRuntime() != "node" {
		t.Errorf("PrimaryRuntime() = %q, want node", cfg.PrimaryRuntime())
	}
	if len(cfg.LoaderList()) != 4 || len(cfg.RuntimeList()) != 4 {
		t.Errorf("defaults = %d loaders, %d runtimes, want 4 and 4", len(cfg.LoaderList()), len(cfg.RuntimeList()))
	}
	if cfg.LoaderVar() != "IMPORTX_LOADER" {
		t.Errorf("LoaderVar() = %q, want IMPORTX_LOADER", cfg.LoaderVar())
	}
	if cfg.Timeout() != 0 {
		t.Errorf("Timeout() = %v, want 0 (unbounded)", cfg.Timeout())
	}
	if cfg.ResultsFile() != "test/table.json" {
		t.Errorf("ResultsFile() = %q, want test/table.json", cfg.ResultsFile())
	}
	rt, ok := cfg.Runtime("deno")
	if !ok || rt.Command != "deno run --allow-read --allow-env --allow-write --allow-run" {
		t.Errorf("Runtime(deno) = %+v, %v", rt, ok)
	}
}

func TestLoad_YAMLWinsOverHCL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{}`)
	writeFile(t, filepath.Join(dir, FileName), "entry: from-yaml.mjs\n")
	writeFile(t, filepath.Join(dir, HCLFileName), "entry = \"from-hcl.mjs\"\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Config.EntryFile() != "from-yaml.mjs" {
		t.Errorf("EntryFile() = %q, want from-yaml.mjs", res.Config.EntryFile())
	}
}

func TestLoad_HCL(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOADMATRIX_TEST_DENO", "/opt/deno")
	writeFile(t, filepath.Join(dir, "package.json"), `{}`)
	writeFile(t, filepath.Join(dir, HCLFileName), `
loaders = ["native", "tsx"]
primary = "bun"

runtime "bun" {
  command = "bun"
}

runtime "deno" {
  command = "${env.LOADMATRIX_TEST_DENO} run -A"
  env = {
    DENO_NO_UPDATE_CHECK = "1"
  }
}

markers {
  start = "<!-- A -->"
  end   = "<!-- B -->"
}
`)

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if got := cfg.RuntimeNames(); len(got) != 2 || got[0] != "bun" || got[1] != "deno" {
		t.Fatalf("RuntimeNames() = %v, want [bun deno]", got)
	}
	deno, _ := cfg.Runtime("deno")
	if deno.Command != "/opt/deno run -A" {
		t.Errorf("deno command = %q, want interpolated env", deno.Command)
	}
	if deno.Env["DENO_NO_UPDATE_CHECK"] != "1" {
		t.Errorf("deno env = %v", deno.Env)
	}
	if cfg.PrimaryRuntime() != "bun" {
		t.Errorf("PrimaryRuntime() = %q, want bun", cfg.PrimaryRuntime())
	}
	if cfg.StartMarker() != "<!-- A -->" || cfg.EndMarker() != "<!-- B -->" {
		t.Errorf("markers = %q %q", cfg.StartMarker(), cfg.EndMarker())
	}
}

func TestLoad_HCLSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, HCLFileName), "runtime \"node\" {\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for malformed HCL")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "loaders: [native\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"duplicate loader", Config{Loaders: []string{"native", "tsx", "tsx"}}, "loaders"},
		{"missing native", Config{Loaders: []string{"tsx"}}, "loaders"},
		{"runtime without command", Config{Runtimes: []Runtime{{Name: "node"}}}, "runtimes"},
		{"duplicate runtime", Config{Runtimes: []Runtime{{Name: "node", Command: "node"}, {Name: "node", Command: "node"}}}, "runtimes"},
		{"unknown primary", Config{Primary: "rhino"}, "primary"},
		{"same markers", Config{Markers: Markers{Start: "x", End: "x"}}, "markers"},
		{"bad timeout", Config{RawTimeout: "forever"}, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Errorf("Field = %q, want %q", verr.Field, tc.field)
			}
		})
	}

	if err := (&Config{}).Validate(); err != nil {
		t.Errorf("default config: Validate() = %v, want nil", err)
	}
}

func TestManifestVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package.json")
	writeFile(t, path, `{"name":"importx","version":"0.5.1"}`)

	v, err := ManifestVersion(path)
	if err != nil {
		t.Fatalf("ManifestVersion: %v", err)
	}
	if v != "0.5.1" {
		t.Errorf("version = %q, want 0.5.1", v)
	}

	writeFile(t, path, `{"name":"importx"}`)
	if _, err := ManifestVersion(path); !errors.Is(err, ErrNoVersion) {
		t.Errorf("err = %v, want ErrNoVersion", err)
	}
}
