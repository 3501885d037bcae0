package main

import (
	"os"

	"github.com/gmsas95/carewatch/internal/cli"
	"github.com/gmsas95/carewatch/internal/config"
)

var version = "dev"

func main() {
	_ = config.LoadEnvFiles()
	cli.Version = version
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
