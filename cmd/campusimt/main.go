package main

import "github.com/j5272000/campus-imaotai/cmd"

func main() {
	cmd.Execute()
}
