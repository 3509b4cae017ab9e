package main

import (
	"github.com/spf13/cobra"

	"github.com/zostay/go-mailbuild/cmd/mailbuild/cmd"
)

func main() {
	err := cmd.Execute()
	cobra.CheckErr(err)
}
