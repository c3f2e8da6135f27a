package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/massindex/internal/indexer"
)

func newRunID() string { return uuid.NewString() }

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printReport(r *indexer.Report) {
	if r == nil {
		return
	}
	p := r.Progress
	fmt.Printf("Run %s: %s in %s\n", r.RunID, r.State, r.Duration.Round(time.Millisecond))
	fmt.Printf("  indexed %d of %d (loaded %d, not found %d, failed %d, abandoned %d)\n",
		p.Indexed, p.Total, p.Loaded, p.NotFound, p.Failed, p.Abandoned)
	for _, g := range r.Groups {
		fmt.Printf("  group %-30s %-10s %s\n", g.Name, g.State, g.Duration.Round(time.Millisecond))
		if g.Error != "" {
			fmt.Printf("    error: %s\n", g.Error)
		}
	}
	if !r.Failures.Empty() {
		fmt.Printf("  %s\n", r.Failures)
		for _, f := range r.Failures.Retained {
			fmt.Printf("    - %s\n", f)
		}
	}
}
