package main

import "github.com/microboard/eventrelay/cmd"

func main() {
	cmd.Execute()
}
