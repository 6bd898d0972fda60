// Command gateway runs the Cloud Code/Antigravity reverse-proxy gateway:
// it loads its YAML config, wires the account store, scheduler, token
// refresher and dispatcher, and serves the OpenAI/Anthropic/Gemini wire
// protocols over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
