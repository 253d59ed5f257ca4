// Package cli implements the casesign command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/casetrack/casesign/config"
	"github.com/casetrack/casesign/internal/logger"
	"github.com/casetrack/casesign/sign/failure"
)

// Version information, set from main.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Exit codes.
const (
	ExitOK = iota
	ExitError
	ExitUsage
	ExitConfiguration
	ExitCredentials
	ExitToolkit
	ExitSigning
	ExitOversize
	ExitMalformed
)

// Globals are the flags shared by every command.
type Globals struct {
	Config    string `help:"YAML configuration file." type:"path" env:"CASESIGN_CONFIG"`
	LogLevel  string `help:"Log level: debug, info, warn or error." name:"log-level" env:"CASESIGN_LOG_LEVEL"`
	LogFormat string `help:"Log format: console or json." name:"log-format" env:"CASESIGN_LOG_FORMAT"`

	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
}

// LoadConfig reads the configuration file, with the log flags applied on
// top.
func (g *Globals) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Logging.Format = g.LogFormat
	}
	return cfg, nil
}

// Logger builds the process logger from the logging section.
func (g *Globals) Logger(cfg *config.LoggingConfig) (zerolog.Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = g.Stderr
	case "stdout":
		out = g.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	return logger.Setup(cfg.Level, cfg.Format, out)
}

// CLI is the command tree.
type CLI struct {
	Globals

	Sign    SignCmd    `cmd:"" help:"Sign a PDF document."`
	Verify  VerifyCmd  `cmd:"" help:"Check the signatures embedded in a PDF document."`
	Inspect InspectCmd `cmd:"" help:"Describe the signer certificate in a PKCS#12 container."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Stdout, "casesign version %s\n", Version)
	fmt.Fprintf(g.Stdout, "Commit: %s\n", Commit)
	fmt.Fprintf(g.Stdout, "Build time: %s\n", BuildTime)
	return nil
}

// Run parses args (without the program name), runs the selected command and
// returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cli := CLI{Globals: Globals{Stdout: stdout, Stderr: stderr}}
	parser, err := kong.New(&cli,
		kong.Name("casesign"),
		kong.Description("Sign and check PDF documents."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		fmt.Fprintf(stderr, "casesign: %v\n", err)
		return ExitError
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "casesign: %v\n", err)
		return ExitUsage
	}
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(stderr, "casesign: %v\n", message(err))
		return ExitCode(err)
	}
	return ExitOK
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, config.ErrConfigurationError) {
		return ExitConfiguration
	}
	var fe *failure.Error
	if !errors.As(err, &fe) {
		return ExitError
	}
	switch fe.Kind {
	case failure.Configuration:
		return ExitConfiguration
	case failure.WrongPassword, failure.CorruptContainer, failure.NoPrivateKeyFound:
		return ExitCredentials
	case failure.ToolkitUnavailable:
		return ExitToolkit
	case failure.SigningFailed:
		return ExitSigning
	case failure.OversizeSignature:
		return ExitOversize
	case failure.MalformedPDF:
		return ExitMalformed
	}
	return ExitError
}

// message keeps diagnostic detail out of what the user sees.
func message(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
