package sandbox

import (
	"fmt"
	"strings"
)

// LangSpec describes how one language is materialized and launched inside a
// sandbox.
type LangSpec struct {
	Name     string
	FileName string   // Source file name inside the scratch directory.
	Command  []string // Run command; {{file}} is replaced with the source path.
	Compile  []string // Optional compile step run before Command. Same substitution.
	Image    string   // Docker image for the container backend.
}

// builtinSpecs is the full language table. The configured allow-list selects
// a subset at startup; anything off the list is an ExecSandboxError.
var builtinSpecs = map[string]LangSpec{
	"python": {
		Name:     "python",
		FileName: "main.py",
		Command:  []string{"python3", "{{file}}"},
		Image:    "python:3.12-alpine",
	},
	"javascript": {
		Name:     "javascript",
		FileName: "main.js",
		Command:  []string{"node", "{{file}}"},
		Image:    "node:22-alpine",
	},
	"typescript": {
		Name:     "typescript",
		FileName: "main.ts",
		Command:  []string{"npx", "tsx", "{{file}}"},
		Image:    "node:22-alpine",
	},
	"go": {
		Name:     "go",
		FileName: "main.go",
		Command:  []string{"go", "run", "{{file}}"},
		Image:    "golang:1.23-alpine",
	},
	"rust": {
		Name:     "rust",
		FileName: "main.rs",
		Compile:  []string{"rustc", "-o", "main", "{{file}}"},
		Command:  []string{"./main"},
		Image:    "rust:1.80-alpine",
	},
	"java": {
		Name:     "java",
		FileName: "Main.java",
		Command:  []string{"java", "{{file}}"}, // Single-file source launch.
		Image:    "eclipse-temurin:21-alpine",
	},
	"c": {
		Name:     "c",
		FileName: "main.c",
		Compile:  []string{"cc", "-O2", "-o", "main", "{{file}}"},
		Command:  []string{"./main"},
		Image:    "gcc:14",
	},
	"cpp": {
		Name:     "cpp",
		FileName: "main.cpp",
		Compile:  []string{"c++", "-O2", "-o", "main", "{{file}}"},
		Command:  []string{"./main"},
		Image:    "gcc:14",
	},
	"ruby": {
		Name:     "ruby",
		FileName: "main.rb",
		Command:  []string{"ruby", "{{file}}"},
		Image:    "ruby:3.3-alpine",
	},
	"bash": {
		Name:     "bash",
		FileName: "main.sh",
		Command:  []string{"sh", "{{file}}"},
		Image:    "alpine:3.20",
	},
}

// Registry is the allow-listed language table for one sandbox instance.
type Registry struct {
	specs map[string]LangSpec
}

// NewRegistry builds a registry restricted to the allowed languages.
// An empty allow-list admits every built-in language.
func NewRegistry(allowed []string) (*Registry, error) {
	if len(allowed) == 0 {
		return &Registry{specs: builtinSpecs}, nil
	}
	specs := make(map[string]LangSpec, len(allowed))
	for _, lang := range allowed {
		name := strings.ToLower(strings.TrimSpace(lang))
		spec, ok := builtinSpecs[name]
		if !ok {
			return nil, fmt.Errorf("unknown language %q in allow-list", lang)
		}
		specs[name] = spec
	}
	return &Registry{specs: specs}, nil
}

// Lookup resolves a language to its launch spec.
func (r *Registry) Lookup(language string) (LangSpec, bool) {
	spec, ok := r.specs[strings.ToLower(strings.TrimSpace(language))]
	return spec, ok
}

// Languages lists the allow-listed language names.
func (r *Registry) Languages() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// expand substitutes {{file}} in a command template.
func expand(template []string, file string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, "{{file}}", file)
	}
	return out
}
