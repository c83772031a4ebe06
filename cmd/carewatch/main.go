// carewatch gates clinical scheduling operations behind intent
// classification, parameter validation and a hash-chained audit log.
package main

import "github.com/ppiankov/carewatch/internal/cli"

func main() {
	cli.Execute()
}
