package main

import (
	"context"
	"os"

	memsynccmder "github.com/papercomputeco/memsync/cmd/memsync"
)

func main() {
	cmd := memsynccmder.NewMemsyncCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
