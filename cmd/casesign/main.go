// Command casesign signs PDF documents and checks their signatures.
//
// Usage:
//
//	casesign <command> [flags]
//
// Commands:
//
//	sign     Sign a PDF document
//	verify   Check the signatures embedded in a PDF document
//	inspect  Describe the signer certificate in a PKCS#12 container
//	version  Show version information
//
// Examples:
//
//	casesign sign --in filing.pdf --out filing-signed.pdf --cert clerk.p12
//	casesign verify filing-signed.pdf
//	casesign inspect --cert clerk.p12 --json
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/casetrack/casesign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/casesign
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cli.Version = version
	cli.Commit = commit
	cli.BuildTime = buildTime

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
