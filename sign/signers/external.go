package signers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casetrack/casesign/keys"
	"github.com/casetrack/casesign/sign/failure"
)

// ExternalSigner builds a SignedData structure over content. The result may
// be attached or detached; callers strip it before embedding.
type ExternalSigner interface {
	Sign(ctx context.Context, content []byte, id *keys.SigningIdentity, chain keys.TrustChain) ([]byte, error)
}

// maxDetail caps how much toolkit output is kept for logs.
const maxDetail = 2048

// OpenSSLSigner runs "openssl cms -sign" in a private temporary directory.
type OpenSSLSigner struct {
	// Path is the executable name or path; DefaultToolkit when empty.
	Path string
	// Timeout bounds one invocation; DefaultToolkitTimeout when zero.
	Timeout time.Duration
	// TempRoot is the parent of the per-call directory; os.TempDir when empty.
	TempRoot string
	Logger   zerolog.Logger
}

// Sign writes content, the signer certificate, its key and the chain to a
// fresh directory readable only by the current user, runs the toolkit and
// returns its DER output. The directory is removed on every return path.
func (s *OpenSSLSigner) Sign(ctx context.Context, content []byte, id *keys.SigningIdentity, chain keys.TrustChain) ([]byte, error) {
	toolkit := s.Path
	if toolkit == "" {
		toolkit = DefaultToolkit
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultToolkitTimeout
	}
	if id == nil || id.PrivateKey == nil || id.Certificate == nil {
		return nil, failure.Newf(failure.SigningFailed, "no signing identity")
	}

	bin, err := exec.LookPath(toolkit)
	if err != nil {
		return nil, failure.New(failure.ToolkitUnavailable, "signing toolkit is not installed", err)
	}

	callID := CallID(ctx)
	if callID == "" {
		callID = uuid.NewString()
	}
	dir, err := os.MkdirTemp(s.TempRoot, "casesign-"+callID+"-")
	if err != nil {
		return nil, failure.New(failure.ToolkitUnavailable, "temporary directory could not be created", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.Logger.Error().Err(err).Str("call_id", callID).Msg("failed to remove signing directory")
		}
	}()

	keyPEM, err := keys.EncodePrivateKeyPEM(id.PrivateKey)
	if err != nil {
		return nil, failure.New(failure.SigningFailed, "private key cannot be exported to the toolkit", err)
	}
	defer clear(keyPEM)

	var (
		dataFile   = filepath.Join(dir, "data.bin")
		signerFile = filepath.Join(dir, "signer.pem")
		keyFile    = filepath.Join(dir, "key.pem")
		chainFile  = filepath.Join(dir, "chain.pem")
		outFile    = filepath.Join(dir, "signature.der")
	)
	files := map[string][]byte{
		dataFile:   content,
		signerFile: keys.EncodeCertsPEM(id.Certificate),
		keyFile:    keyPEM,
	}
	if len(chain) > 0 {
		files[chainFile] = chain.PEM()
	}
	for path, data := range files {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, failure.New(failure.ToolkitUnavailable, "signing inputs could not be written", err)
		}
	}

	args := []string{
		"cms", "-sign", "-binary", "-nodetach",
		"-md", DefaultMD,
		"-outform", "DER",
		"-in", dataFile,
		"-signer", signerFile,
		"-inkey", keyFile,
	}
	if len(chain) > 0 {
		args = append(args, "-certfile", chainFile)
	}
	args = append(args, "-out", outFile)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output bytes.Buffer
	// #nosec G204 -- arguments are fixed flags and paths inside our own directory.
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	s.Logger.Debug().
		Str("call_id", callID).
		Dur("duration", time.Since(start)).
		Int("chain_size", len(chain)).
		Msg("toolkit finished")

	if runErr != nil {
		detail := truncateDetail(output.String())
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, failure.New(failure.ToolkitUnavailable,
				fmt.Sprintf("signing toolkit did not finish within %s", timeout), runCtx.Err()).WithDetail(detail)
		case ctx.Err() != nil:
			return nil, failure.New(failure.SigningFailed, "signing was cancelled", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, failure.New(failure.SigningFailed, "signing toolkit rejected the inputs", runErr).WithDetail(detail)
		}
		return nil, failure.New(failure.ToolkitUnavailable, "signing toolkit could not be started", runErr).WithDetail(detail)
	}

	der, err := os.ReadFile(outFile)
	if err != nil || len(der) == 0 {
		return nil, failure.New(failure.SigningFailed, "signing toolkit produced no output", err).
			WithDetail(truncateDetail(output.String()))
	}
	return der, nil
}

func truncateDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail] + "...(truncated)"
}
