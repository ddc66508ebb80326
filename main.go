package main

import "github.com/kozaktomas/class-photo-sorter/cmd"

func main() {
	cmd.Execute()
}
