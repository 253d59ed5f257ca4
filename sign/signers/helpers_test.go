package signers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casetrack/casesign/internal/testpki"
	"github.com/casetrack/casesign/keys"
)

const testPassword = "correct horse"

// fakeSigner produces an attached SignedData in-process, the way the
// toolkit does with -nodetach.
type fakeSigner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSigner) Sign(_ context.Context, content []byte, id *keys.SigningIdentity, chain keys.TrustChain) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if id == nil || id.PrivateKey == nil {
		return nil, errors.New("no identity")
	}
	signer := &testpki.Authority{Cert: id.Certificate, Key: id.PrivateKey}
	attached, _, err := signer.BuildSignedData(content, chain...)
	return attached, err
}

type fixture struct {
	dir      string
	certPath string
	root     *testpki.Authority
	issuer   *testpki.Authority
	leaf     *testpki.Authority
}

// newFixture writes a container holding a leaf and its issuing CA, with the
// root CA as a loose file in the same directory.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	root := testpki.NewRoot(t, "Case Root CA")
	issuer := root.Intermediate(t, "Case Issuing CA")
	leaf := issuer.DefaultLeaf(t, "Jane Clerk")

	f := &fixture{dir: dir, root: root, issuer: issuer, leaf: leaf}
	f.certPath = testpki.WriteFile(t, dir, "signer.p12", leaf.PKCS12(t, testPassword, issuer.Cert))
	testpki.WriteFile(t, dir, "root.pem", testpki.PEM(root.Cert))
	return f
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)
}
