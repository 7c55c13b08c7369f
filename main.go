package main

import "agent-console-cli/cmd"

func main() {
	cmd.Execute()
}
