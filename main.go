// The main package for the insider-scraper executable.
package main

import (
	"github.com/finsight/insider-scraper/cmd"
)

func main() {
	cmd.Execute()
}
