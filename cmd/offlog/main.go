// Command offlog runs the offline replay daemon and manages its queues.
package main

import (
	"os"

	"github.com/kilupskalvis/offlog/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
