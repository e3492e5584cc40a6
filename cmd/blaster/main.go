package main

import "github.com/OpenTraceLab/OpenTraceBlaster/cmd/blaster/cmd"

func main() {
	cmd.Execute()
}
