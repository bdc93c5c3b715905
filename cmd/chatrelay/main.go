package main

import "github.com/ZanzyTHEbar/chatrelay/relay/cli"

func main() {
	cli.Execute()
}
