// Package testpki issues throwaway certificate hierarchies and PKCS#12
// containers for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

var serial atomic.Int64

// Authority is a certificate together with its private key.
type Authority struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// NewRoot creates a self-signed root CA.
func NewRoot(t testing.TB, cn string) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := caTemplate(cn)
	return sign(t, tmpl, tmpl, key, key)
}

// Intermediate issues a subordinate CA.
func (a *Authority) Intermediate(t testing.TB, cn string) *Authority {
	t.Helper()
	key := newKey(t)
	return sign(t, caTemplate(cn), a.Cert, key, a.Key)
}

// Leaf issues an end-entity signing certificate valid for the given window.
func (a *Authority) Leaf(t testing.TB, cn, org string, notBefore, notAfter time.Time) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{org}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
	}
	return sign(t, tmpl, a.Cert, key, a.Key)
}

// DefaultLeaf issues a leaf valid from an hour ago for one year.
func (a *Authority) DefaultLeaf(t testing.TB, cn string) *Authority {
	t.Helper()
	now := time.Now()
	return a.Leaf(t, cn, "Case Office", now.Add(-time.Hour), now.AddDate(1, 0, 0))
}

// PKCS12 encodes the authority's key and certificate with the given CA
// certificates into a password protected container.
func (a *Authority) PKCS12(t testing.TB, password string, cas ...*x509.Certificate) []byte {
	t.Helper()
	data, err := pkcs12.Modern.Encode(a.Key, a.Cert, cas, password)
	require.NoError(t, err)
	return data
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// PEM encodes a certificate as a PEM block.
func PEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func caTemplate(cn string) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test Trust Services"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func sign(t testing.TB, tmpl, parent *x509.Certificate, key *ecdsa.PrivateKey, parentKey crypto.Signer) *Authority {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Authority{Cert: cert, Key: key}
}

// SignedData builds a SHA-256 SignedData over content with the authority as
// signer, returning the attached and detached encodings of the same signature.
func (a *Authority) SignedData(t testing.TB, content []byte, chain ...*x509.Certificate) (attached, detached []byte) {
	t.Helper()
	attached, detached, err := a.BuildSignedData(content, chain...)
	require.NoError(t, err)
	return attached, detached
}

// BuildSignedData is SignedData without a testing.TB, for use inside fakes
// invoked off the test goroutine.
func (a *Authority) BuildSignedData(content []byte, chain ...*x509.Certificate) (attached, detached []byte, err error) {
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, nil, err
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	// AddSignerChain takes an ordered path from the issuer up; chain is an
	// unordered set.
	issuer := -1
	for i, c := range chain {
		if !c.Equal(a.Cert) && a.Cert.CheckSignatureFrom(c) == nil {
			issuer = i
			break
		}
	}
	if issuer >= 0 {
		err = sd.AddSignerChain(a.Cert, a.Key, chain[issuer:issuer+1], pkcs7.SignerInfoConfig{})
	} else {
		err = sd.AddSigner(a.Cert, a.Key, pkcs7.SignerInfoConfig{})
	}
	if err != nil {
		return nil, nil, err
	}
	for i, c := range chain {
		if i != issuer && !c.Equal(a.Cert) {
			sd.AddCertificate(c)
		}
	}
	if attached, err = sd.Finish(); err != nil {
		return nil, nil, err
	}
	sd.Detach()
	if detached, err = sd.Finish(); err != nil {
		return nil, nil, err
	}
	return attached, detached, nil
}
