package main

import "github.com/dl-alexandre/gsyncfs/internal/cli"

func main() {
	cli.Execute()
}
