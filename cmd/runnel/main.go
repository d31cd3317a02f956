package main

import "github.com/deepnoodle-ai/runnel/cmd/runnel/cli"

func main() {
	cli.Execute()
}
