// Command crarchive maintains the mailing list archive database.
//
// It imports mail, repairs dates, rebuilds threads and the search
// index, and runs searches from the command line.
package main

import (
	"fmt"
	"os"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "crarchive: %v\n", err)
		os.Exit(1)
	}
}
