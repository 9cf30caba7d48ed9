package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/eventname"
	"github.com/clinisys/diarocore/internal/policy"
)

// lintEventsCommand statically sweeps every exported function name in
// internal/ against the no-mutation naming policy, and the string
// literal passed as the first argument of every Append/onEvent call
// against the Event Namer's canonical vocabulary; other string literals
// are not checked. It uses only go/parser and go/ast: no ecosystem package
// in this corpus does Go source analysis, so the standard library is
// the only grounded option for this one startup check.
func lintEventsCommand() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "lint-events",
		Short: "Check exported function names and event-name literals for policy compliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			violations, err := lintTree(root)
			if err != nil {
				return err
			}
			for _, v := range violations {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			if len(violations) > 0 {
				return errs.Newf("lint-events found %d violation(s)", len(violations)).
					Kind(errs.KindPolicyViolationDetected).Component("cmd").Build()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "internal", "directory tree to scan")
	return cmd
}

// lintTree walks every package directory under root, including nested
// ones (internal/audit, internal/governor, ...), since the policy and
// event-name vocabulary it checks are not confined to root's immediate
// files.
func lintTree(root string) ([]string, error) {
	fset := token.NewFileSet()
	var violations []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		pkgs, err := parser.ParseDir(fset, path, func(info fs.FileInfo) bool {
			return !strings.HasSuffix(info.Name(), "_test.go")
		}, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, pkg := range pkgs {
			for filePath, file := range pkg.Files {
				rel, _ := filepath.Rel(root, filePath)
				lintFile(file, rel, &violations)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

// eventEmissionCallNames is the closed set of call-site function names
// that take a canonical event name as their first argument: Ledger.Append
// (internal/audit/ledger.go) and Governor's onEvent callback
// (internal/governor/governor.go). Error-Kind constants and ErrorKind
// values are a distinct vocabulary (spec.md §7) and must never be swept
// here.
var eventEmissionCallNames = map[string]bool{
	"Append":  true,
	"onEvent": true,
}

func lintFile(file *ast.File, relPath string, violations *[]string) {
	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.FuncDecl:
			if node.Name.IsExported() {
				if err := policy.CheckFunctionName(node.Name.Name); err != nil {
					*violations = append(*violations, fmt.Sprintf("%s: %v", relPath, err))
				}
			}
		case *ast.CallExpr:
			if !eventEmissionCallNames[callName(node.Fun)] {
				return true
			}
			if len(node.Args) == 0 {
				return true
			}
			lit, ok := node.Args[0].(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				return true
			}
			value := lit.Value[1 : len(lit.Value)-1] // strip quotes
			if !eventname.Validate(value) {
				*violations = append(*violations, fmt.Sprintf("%s: %q is not a canonical event name", relPath, value))
			}
		}
		return true
	})
}

// callName returns the identifier a call expression's function resolves
// to: "Append" for both f() and recv.Append() shapes.
func callName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	default:
		return ""
	}
}
