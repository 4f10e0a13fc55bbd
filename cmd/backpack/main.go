package main

import "github.com/illmade-knight/backpack/internal/cmd"

func main() {
	cmd.Execute()
}
