package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casetrack/casesign/config"
	"github.com/casetrack/casesign/internal/testpdf"
	"github.com/casetrack/casesign/internal/testpki"
	"github.com/casetrack/casesign/keys"
	"github.com/casetrack/casesign/sign/failure"
	"github.com/casetrack/casesign/sign/signers"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

type pkcs7Signer struct{}

func (pkcs7Signer) Sign(_ context.Context, content []byte, id *keys.SigningIdentity, chain keys.TrustChain) ([]byte, error) {
	attached, _, err := (&testpki.Authority{Cert: id.Certificate, Key: id.PrivateKey}).BuildSignedData(content, chain...)
	return attached, err
}

func container(t *testing.T, dir string) string {
	t.Helper()
	root := testpki.NewRoot(t, "Case Root CA")
	leaf := root.DefaultLeaf(t, "Jane Clerk")
	testpki.WriteFile(t, dir, "root.pem", testpki.PEM(root.Cert))
	return testpki.WriteFile(t, dir, "clerk.p12", leaf.PKCS12(t, "secret"))
}

func signedDocument(t *testing.T) []byte {
	t.Helper()
	s := &signers.CryptoStrategy{
		CertificatePath: container(t, t.TempDir()),
		Password:        "secret",
		Signer:          pkcs7Signer{},
		Now:             time.Now,
	}
	signed, err := s.Sign(context.Background(), testpdf.Build(testpdf.Options{Pages: 2}), signers.Metadata{Reason: "Filing"})
	require.NoError(t, err)
	return signed
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "casesign version dev")
	assert.Contains(t, out, "Build time: unknown")
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := run(t, "frobnicate")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "casesign:")
}

func TestSignVisual(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(in, testpdf.Generate(t, "Order"), 0o600))

	code, stdout, stderr := run(t, "sign", "--in", in, "--out", out, "--name", "Jane Clerk", "--log-level", "error")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "(visual)")

	signed, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Greater(t, len(signed), 0)

	code, _, stderr = run(t, "verify", out)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "no signatures found")
}

func TestSignMalformedInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, []byte("not a pdf"), 0o600))

	code, _, stderr := run(t, "sign", "--in", in, "--out", filepath.Join(dir, "out.pdf"), "--log-level", "error")
	assert.Equal(t, ExitMalformed, code)
	assert.Contains(t, stderr, "document cannot be read")
	assert.NoFileExists(t, filepath.Join(dir, "out.pdf"))
}

func TestSignWrongPassword(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, testpdf.Build(testpdf.Options{}), 0o600))

	code, _, stderr := run(t, "sign", "--in", in, "--out", filepath.Join(dir, "out.pdf"),
		"--cert", container(t, dir), "--password", "nope", "--log-level", "error")
	assert.Equal(t, ExitCredentials, code)
	assert.Contains(t, stderr, "incorrect certificate password")
}

func TestSignCredentialsFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, testpdf.Build(testpdf.Options{}), 0o600))
	t.Setenv("CASESIGN_CERT_PATH", container(t, dir))
	t.Setenv("CASESIGN_CERT_PASSWORD", "nope")
	t.Setenv("CASESIGN_LOG_LEVEL", "error")

	code, _, stderr := run(t, "sign", "--in", in, "--out", filepath.Join(dir, "out.pdf"))
	assert.Equal(t, ExitCredentials, code)
	assert.Contains(t, stderr, "incorrect certificate password")
}

func TestSignEnvironmentValuesAreTyped(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, testpdf.Build(testpdf.Options{}), 0o600))
	t.Setenv("CASESIGN_CERT_PATH", container(t, dir))
	t.Setenv("CASESIGN_CERT_PASSWORD", "secret")

	t.Run("budget below minimum", func(t *testing.T) {
		t.Setenv("CASESIGN_BYTES_RESERVED", "512")
		code, _, _ := run(t, "sign", "--in", in, "--out", filepath.Join(dir, "out.pdf"))
		assert.Equal(t, ExitConfiguration, code)
	})

	t.Run("timeout is not a duration", func(t *testing.T) {
		t.Setenv("CASESIGN_TOOLKIT_TIMEOUT", "soon")
		code, _, _ := run(t, "sign", "--in", in, "--out", filepath.Join(dir, "out.pdf"))
		assert.Equal(t, ExitUsage, code)
	})

	assert.NoFileExists(t, filepath.Join(dir, "out.pdf"))
}

func TestSignCmdApply(t *testing.T) {
	signing := &config.SigningConfig{CertificatePath: "/etc/casesign/old.p12"}
	signing.SetDefaults()

	cmd := &SignCmd{
		Cert:           "/srv/keys/new.p12",
		Password:       "secret",
		ToolkitTimeout: 3 * time.Second,
		Reserve:        32768,
		SkipVerify:     true,
	}
	cmd.apply(signing)

	assert.Equal(t, "/srv/keys/new.p12", signing.CertificatePath)
	assert.Empty(t, signing.ChainDir, "chain directory follows the new container")
	assert.Equal(t, 3*time.Second, signing.ToolkitTimeout)
	assert.Equal(t, 32768, signing.BytesReserved)
	assert.False(t, signing.ShouldVerify())
	assert.Equal(t, "openssl", signing.Toolkit)

	cmd = &SignCmd{ChainDir: "/srv/chain"}
	cmd.apply(signing)
	assert.Equal(t, "/srv/chain", signing.ChainDir)
}

func TestSignAndVerifyWithOpenSSL(t *testing.T) {
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not installed")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(in, testpdf.Build(testpdf.Options{Pages: 2}), 0o600))

	code, stdout, stderr := run(t, "sign", "--in", in, "--out", out,
		"--cert", container(t, dir), "--password", "secret", "--reason", "Filing", "--log-level", "error")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "(crypto)")

	code, stdout, _ = run(t, "verify", out)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "[OK] VALID")
	assert.Contains(t, stdout, "Reason: Filing")
}

func TestVerifyJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "signed.pdf")
	require.NoError(t, os.WriteFile(file, signedDocument(t), 0o600))

	code, stdout, _ := run(t, "verify", "--json", file)
	require.Equal(t, ExitOK, code)

	var output VerifyOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &output))
	require.Len(t, output.Signatures, 1)
	sig := output.Signatures[0]
	assert.Equal(t, "VALID", sig.Status)
	assert.Equal(t, "Signature1", sig.FieldName)
	assert.Equal(t, "Jane Clerk", sig.SignerName)
	assert.Equal(t, "Jane Clerk", sig.Certificate)
	assert.True(t, sig.CoversWholeFile)
	assert.True(t, sig.DigestMatches)
	assert.Equal(t, 2, output.Pages)
}

func TestVerifyDetectsTampering(t *testing.T) {
	signed := signedDocument(t)
	tampered := bytes.Replace(signed, []byte("(Page 1)"), []byte("(Page X)"), 1)
	require.NotEqual(t, signed, tampered)

	output, err := Verify(tampered)
	require.NoError(t, err)
	require.Len(t, output.Signatures, 1)
	sig := output.Signatures[0]
	assert.Equal(t, "INVALID", sig.Status)
	assert.False(t, sig.DigestMatches)
	assert.True(t, sig.CoversWholeFile)
	assert.NotEmpty(t, sig.Errors)

	file := filepath.Join(t.TempDir(), "tampered.pdf")
	require.NoError(t, os.WriteFile(file, tampered, 0o600))
	code, stdout, _ := run(t, "verify", file)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stdout, "[FAIL] INVALID")
}

func TestInspect(t *testing.T) {
	p12 := container(t, t.TempDir())

	code, stdout, _ := run(t, "inspect", "--cert", p12, "--password", "secret")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Subject: Jane Clerk")
	assert.Contains(t, stdout, "Issuer: Case Root CA")

	code, stdout, _ = run(t, "inspect", "--cert", p12, "--password", "secret", "--json")
	require.Equal(t, ExitOK, code)
	var report keys.CertificateReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "Jane Clerk", report.CommonName)
	assert.False(t, report.Expired)

	code, _, _ = run(t, "inspect", "--cert", p12, "--password", "wrong")
	assert.Equal(t, ExitCredentials, code)
}

func TestConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, testpdf.Build(testpdf.Options{}), 0o600))
	cfg := filepath.Join(dir, "casesign.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("signing:\n  bytes-reserved: 10\n"), 0o600))

	code, _, _ := run(t, "--config", cfg, "sign", "--in", in, "--out", filepath.Join(dir, "out.pdf"))
	assert.Equal(t, ExitConfiguration, code)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("other"), ExitError},
		{config.NewConfigError("toolkit", "missing"), ExitConfiguration},
		{failure.Newf(failure.Configuration, "x"), ExitConfiguration},
		{failure.Newf(failure.WrongPassword, "x"), ExitCredentials},
		{failure.Newf(failure.CorruptContainer, "x"), ExitCredentials},
		{failure.Newf(failure.NoPrivateKeyFound, "x"), ExitCredentials},
		{failure.Newf(failure.ToolkitUnavailable, "x"), ExitToolkit},
		{failure.Newf(failure.SigningFailed, "x"), ExitSigning},
		{failure.Newf(failure.OversizeSignature, "x"), ExitOversize},
		{failure.Newf(failure.MalformedPDF, "x"), ExitMalformed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}
