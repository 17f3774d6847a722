// Command depscheck enforces the package layering of the server: the grid
// and pathfinder know nothing about behaviors, behaviors know nothing about
// the manager, and nothing below the network layer imports it.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const modulePath = "hidden-walnuts/server"

// forbidden maps a package prefix to the prefixes it must not import.
var forbidden = map[string][]string{
	"internal/world":   {"internal/ai", "internal/npc", "internal/sim", "internal/net"},
	"internal/species": {"internal/ai", "internal/npc", "internal/world", "internal/net"},
	"internal/ai":      {"internal/npc", "internal/sim", "internal/net"},
	"internal/npc":     {"internal/sim", "internal/net"},
	"internal/sim":     {"internal/npc", "internal/net"},
	"internal/events":  {"internal/npc", "internal/sim", "internal/net"},
}

func main() {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "./internal/...")
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to load packages: %v\n", err)
		os.Exit(1)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	violations := check(pkgs)
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(pkgs []*packages.Package) []string {
	var violations []string
	for _, pkg := range pkgs {
		rules := rulesFor(pkg.PkgPath)
		if len(rules) == 0 {
			continue
		}
		for imp := range pkg.Imports {
			for _, rule := range rules {
				if withinPackage(imp, modulePath+"/"+rule) {
					violations = append(violations, fmt.Sprintf("%s -> %s", pkg.PkgPath, imp))
				}
			}
		}
	}
	sort.Strings(violations)
	return violations
}

func rulesFor(pkgPath string) []string {
	var rules []string
	for prefix, denied := range forbidden {
		if withinPackage(pkgPath, modulePath+"/"+prefix) {
			rules = append(rules, denied...)
		}
	}
	return rules
}

// withinPackage reports whether path is root or one of its subpackages.
func withinPackage(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
