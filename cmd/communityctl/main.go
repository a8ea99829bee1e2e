package main

import (
	"fmt"
	"os"

	"github.com/benvon/community-portal/cmd/communityctl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
