package main

import "advsec/cmd"

func main() {
	cmd.Execute()
}
