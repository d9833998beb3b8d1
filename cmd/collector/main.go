package main

import "github.com/vietddude/streamcollector/internal/cli"

func main() {
	cli.Execute()
}
