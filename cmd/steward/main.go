// Command steward runs tool-calling chat turns against a Kimi model from
// the terminal.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
