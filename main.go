package main

import "github.com/liuxd6825/replayd/cmd"

func main() {
	cmd.Execute()
}
