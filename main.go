package main

import "orianna/cmd"

func main() {
	cmd.Execute()
}
