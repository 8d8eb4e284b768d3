package main

import "github.com/agentic-research/jsontab/cmd"

func main() {
	cmd.Execute()
}
