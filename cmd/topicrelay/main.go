package main

import "github.com/ppiankov/topicrelay/internal/cli"

func main() {
	cli.Execute()
}
