// cmd/tools/template-lint/main.go
//
// template-lint checks a template catalog directory before deployment:
// every document must pass the registry meta-schema and load cleanly on top
// of the builtin catalog.
package main

import (
	"flag"
	"fmt"
	"os"

	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/template"
)

func main() {
	dir := flag.String("dir", "configs/templates", "Path to the template catalog directory")
	list := flag.Bool("list", false, "List the resulting catalog after loading")
	flag.Parse()

	log := logger.NewNoOpLogger()
	registry := template.NewRegistry(log)

	if err := registry.LoadDir(*dir); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}

	snap := registry.Snapshot()
	fmt.Printf("OK: %d templates loaded (catalog snapshot v%d)\n", snap.Len(), snap.Version)

	if *list {
		for _, t := range snap.All() {
			fmt.Printf("  %-30s category=%-12s priority=%-3d required=%d optional=%d endpoint=%s\n",
				t.Key(), t.Category, t.Priority, len(t.Required), len(t.Optional), t.Endpoint)
		}
	}
}
