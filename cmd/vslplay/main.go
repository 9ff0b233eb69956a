// Command vslplay is a CLI harness that drives a Scheduler against a
// YAML test manifest, the stand-in for the host's real playlist
// resolution (spec.md §1 scopes the actual manifest formats out of
// this module's concern).
package main

import (
	"os"

	"github.com/bilibili/vsl/cmd/vslplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
