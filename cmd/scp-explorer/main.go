// scp-explorer browses and transfers files on SSH servers, over SFTP or
// the ssh/scp command-line tools.
//
// Build with version info:
//
//	go build -ldflags "-X github.com/houzin/scp-explorer/internal/version.Version=v1.0.0 \
//	  -X github.com/houzin/scp-explorer/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	  ./cmd/scp-explorer
package main

import (
	"context"
	"errors"
	"os"

	"github.com/houzin/scp-explorer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
