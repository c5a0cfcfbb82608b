package main

import (
	"os"

	objstreamcmder "github.com/objstreamhq/objstream/cmd/objstream"
)

func main() {
	cmd := objstreamcmder.NewObjstreamCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
