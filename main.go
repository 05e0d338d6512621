// main.go - tilerender entry point
package main

import "github.com/valpere/tilerender/cmd"

func main() {
	cmd.Execute()
}
