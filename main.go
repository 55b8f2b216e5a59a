package main

import (
	"MediaGuard/cmd"
)

func main() {
	cmd.Execute()
}
