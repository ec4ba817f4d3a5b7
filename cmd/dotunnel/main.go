package main

import "github.com/cometkim/dotunnel/cmd"

func main() {
	cmd.Execute()
}
