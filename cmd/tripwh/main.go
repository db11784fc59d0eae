package main

import (
	"os"

	"github.com/smartlogix/tripwarehouse/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
