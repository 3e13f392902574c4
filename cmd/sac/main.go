// Command sac runs Soft Actor-Critic experiments described by JSON or
// YAML experiment files
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
