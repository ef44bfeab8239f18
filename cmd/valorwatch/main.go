package main

import (
	"fmt"
	"os"

	"github.com/valorwatch/valorwatch/internal/cli"
)

func main() {
	cli.InitRoot()
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
