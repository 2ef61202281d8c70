package main

import "github.com/scope-profiler/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
