// Command typevault commits, compares, converts and copies datatypes stored
// in containers.
package main

import "github.com/mesh-intelligence/typevault/internal/cli"

func main() {
	cli.Execute()
}
