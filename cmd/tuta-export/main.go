// Command tuta-export logs into a Tutanota-compatible mail account and
// exports a chosen folder to a directory of RFC 2822 .eml files.
package main

import (
	"os"

	"github.com/tuta-cli/tuta-export/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
