package main

import "github.com/appstore-research/mascache/cmd"

func main() {
	cmd.Execute()
}
