// Command local-logger runs the MCP tool server, the hook event filter,
// or the HTTPS interception proxy, depending on the subcommand invoked.
package main

import (
	"os"

	"github.com/datawizz/local-logger/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
