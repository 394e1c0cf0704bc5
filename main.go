package main

import "github.com/brensch/jsonlpack/cmd"

func main() {
	cmd.Execute()
}
