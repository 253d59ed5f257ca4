package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/casetrack/casesign/config"
	"github.com/casetrack/casesign/sign/failure"
	"github.com/casetrack/casesign/sign/signers"
)

// SignCmd signs one document. Without a certificate and password it applies
// the visual stamp only. Flags left unset keep the configuration file values.
type SignCmd struct {
	In       string `help:"Unsigned PDF." type:"existingfile" required:""`
	Out      string `help:"Where to write the signed PDF." type:"path" required:""`
	Name     string `help:"Signer name shown in the signature." env:"CASESIGN_SIGNER_NAME"`
	Reason   string `help:"Reason for signing." env:"CASESIGN_REASON"`
	Location string `help:"Signing location." env:"CASESIGN_LOCATION"`
	Contact  string `help:"Signer contact information." env:"CASESIGN_CONTACT"`

	Cert           string        `help:"PKCS#12 container." type:"path" env:"CASESIGN_CERT_PATH"`
	Password       string        `help:"Container password." env:"CASESIGN_CERT_PASSWORD"`
	ChainDir       string        `help:"Directory of CA certificates; the container's directory by default." type:"path" name:"chain-dir" env:"CASESIGN_CHAIN_DIR"`
	Toolkit        string        `help:"Signing toolkit executable." env:"CASESIGN_TOOLKIT"`
	ToolkitTimeout time.Duration `help:"Upper bound for one toolkit run." name:"toolkit-timeout" env:"CASESIGN_TOOLKIT_TIMEOUT"`
	Reserve        int           `help:"Bytes reserved for the signature structure." name:"bytes-reserved" env:"CASESIGN_BYTES_RESERVED"`
	TempDir        string        `help:"Parent of the per-call working directories." type:"path" name:"temp-dir" env:"CASESIGN_TEMP_DIR"`
	SkipVerify     bool          `help:"Do not check the signature before writing the document." name:"skip-verify" env:"CASESIGN_SKIP_VERIFY"`
}

func (c *SignCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	log, err := g.Logger(cfg.Logging)
	if err != nil {
		return failure.New(failure.Configuration, "invalid logging configuration", err)
	}

	signing := cfg.Signing
	c.apply(signing)

	svc, err := signers.NewService(signing, signers.WithLogger(log))
	if err != nil {
		return err
	}

	pdf, err := os.ReadFile(c.In)
	if err != nil {
		return failure.New(failure.Configuration, "input document is not readable", err)
	}
	signed, err := svc.Sign(ctx, signers.NewSignatureRequest(pdf, signers.Metadata{
		Name:        c.Name,
		Reason:      c.Reason,
		Location:    c.Location,
		ContactInfo: c.Contact,
	}))
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.Out, signed, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.Out, err)
	}
	fmt.Fprintf(g.Stdout, "Signed %s (%s) -> %s\n", c.In, svc.Mode(), c.Out)
	return nil
}

// apply copies the flags that were given over the loaded configuration.
func (c *SignCmd) apply(signing *config.SigningConfig) {
	if c.Cert != "" {
		if signing.ChainDir == filepath.Dir(signing.CertificatePath) {
			signing.ChainDir = ""
		}
		signing.CertificatePath = c.Cert
	}
	if c.Password != "" {
		signing.CertificatePassword = c.Password
	}
	if c.ChainDir != "" {
		signing.ChainDir = c.ChainDir
	}
	if c.Toolkit != "" {
		signing.Toolkit = c.Toolkit
	}
	if c.ToolkitTimeout != 0 {
		signing.ToolkitTimeout = c.ToolkitTimeout
	}
	if c.Reserve != 0 {
		signing.BytesReserved = c.Reserve
	}
	if c.TempDir != "" {
		signing.TempDir = c.TempDir
	}
	if c.SkipVerify {
		verify := false
		signing.VerifyAfterSign = &verify
	}
}
