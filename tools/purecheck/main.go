// Package main implements an import linter for the pure protocol packages.
//
// The data model, canonical form, request builder, verifier and policy
// engine perform no I/O. This tool scans their non-test sources and fails
// when one of them imports a network, filesystem or storage package.
//
// Usage:
//
//	go run ./tools/purecheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// purePackages are checked, relative to <root>/pkg.
var purePackages = []string{"attesterr", "canonicalize", "contracts", "policy", "request", "verifier"}

// forbidden imports. Entries ending in "/" match by prefix.
var forbidden = []string{
	"net",
	"net/",
	"os",
	"os/exec",
	"io/fs",
	"database/sql",
	"github.com/Mindburn-Labs/attestgate/pkg/api",
	"github.com/Mindburn-Labs/attestgate/pkg/artifacts",
	"github.com/Mindburn-Labs/attestgate/pkg/executor",
	"github.com/Mindburn-Labs/attestgate/pkg/limiter",
	"github.com/Mindburn-Labs/attestgate/pkg/relay",
	"github.com/Mindburn-Labs/attestgate/pkg/session",
	"github.com/Mindburn-Labs/attestgate/pkg/signclient",
	"github.com/Mindburn-Labs/attestgate/pkg/store",
}

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q", v.File, v.Line, v.Import)
}

func isForbidden(importPath string) bool {
	for _, f := range forbidden {
		if strings.HasSuffix(f, "/") {
			if strings.HasPrefix(importPath, f) {
				return true
			}
			continue
		}
		if importPath == f {
			return true
		}
	}
	return false
}

// check scans the pure packages under root.
func check(root string) ([]Violation, error) {
	var violations []Violation
	fset := token.NewFileSet()

	for _, pkg := range purePackages {
		dir := filepath.Join(root, "pkg", pkg)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			path := filepath.Join(dir, name)
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				if !isForbidden(importPath) {
					continue
				}
				rel, _ := filepath.Rel(root, path)
				violations = append(violations, Violation{
					File:   rel,
					Line:   fset.Position(imp.Pos()).Line,
					Import: importPath,
				})
			}
		}
	}
	return violations, nil
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "PURITY VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d purity violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "purity check passed: protocol core performs no I/O")
	return 0
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}
