package main

import (
	"errors"
	"fmt"
	"os"

	"dbmigrator/internal/config"
)

func main() {
	cmd, err := newRootCmd().ExecuteC()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var argErr *config.ArgumentError
		if errors.As(err, &argErr) && cmd != nil {
			_ = cmd.Usage()
		}
		os.Exit(1)
	}
}
