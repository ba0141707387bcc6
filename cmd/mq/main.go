package main

import (
	"os"

	"github.com/xlr8harder/mq/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
