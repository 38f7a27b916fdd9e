// Command sentinel-bridge is a security bridge for MCP servers that speak
// JSON-RPC over stdio.
package main

import "github.com/Sentinel-Gate/sentinel-bridge/cmd/sentinel-bridge/cmd"

func main() {
	cmd.Execute()
}
