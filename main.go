package main

import "wabridge/cmd"

func main() {
	cmd.Execute()
}
