package keys

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/casetrack/casesign/internal/testpki"
	"github.com/casetrack/casesign/sign/failure"
)

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"PEM with leading text", []byte("Bag Attributes\n-----BEGIN CERTIFICATE-----\n"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPEM(tt.data))
		})
	}
}

func TestLoadCertsFromPemDerData(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	inter := root.Intermediate(t, "Issuing CA")

	t.Run("PEM bundle", func(t *testing.T) {
		data := append(testpki.PEM(root.Cert), testpki.PEM(inter.Cert)...)
		certs, err := LoadCertsFromPemDerData(data)
		require.NoError(t, err)
		require.Len(t, certs, 2)
		assert.Equal(t, "Root CA", certs[0].Subject.CommonName)
		assert.Equal(t, "Issuing CA", certs[1].Subject.CommonName)
	})

	t.Run("DER", func(t *testing.T) {
		certs, err := LoadCertsFromPemDerData(inter.Cert.Raw)
		require.NoError(t, err)
		require.Len(t, certs, 1)
		assert.True(t, certs[0].Equal(inter.Cert))
	})

	t.Run("PEM without certificates", func(t *testing.T) {
		_, err := LoadCertsFromPemDerData([]byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"))
		assert.ErrorIs(t, err, ErrNoCertFound)
	})
}

func TestMatchesCertificate(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.DefaultLeaf(t, "Clerk")

	assert.True(t, MatchesCertificate(leaf.Key, leaf.Cert))
	assert.False(t, MatchesCertificate(leaf.Key, root.Cert))
	assert.False(t, MatchesCertificate(nil, leaf.Cert))
}

func TestDecodeIdentity(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	inter := root.Intermediate(t, "Issuing CA")
	leaf := inter.DefaultLeaf(t, "Registry Clerk")

	data := leaf.PKCS12(t, "s3cret", inter.Cert, root.Cert)

	id, err := DecodeIdentity(data, "s3cret")
	require.NoError(t, err)
	defer id.Destroy()

	assert.True(t, id.Certificate.Equal(leaf.Cert))
	assert.True(t, MatchesCertificate(id.PrivateKey, id.Certificate))
	assert.Len(t, id.Chain, 2)
}

func TestDecodeIdentityWrongPassword(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.DefaultLeaf(t, "Registry Clerk")
	data := leaf.PKCS12(t, "s3cret")

	for _, pw := range []string{"", "S3cret", "s3cret ", "wrong"} {
		t.Run(fmt.Sprintf("%q", pw), func(t *testing.T) {
			id, err := DecodeIdentity(data, pw)
			assert.Nil(t, id)
			require.ErrorIs(t, err, failure.WrongPassword)
			assert.False(t, failure.IsRetryable(err))
		})
	}
}

func TestDecodeIdentityLeafNotFirst(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.DefaultLeaf(t, "Registry Clerk")

	// The CA occupies the primary certificate bag while the key belongs to
	// the leaf listed among the extra certificates.
	data, err := pkcs12.Modern.Encode(leaf.Key, root.Cert, []*x509.Certificate{leaf.Cert}, "pw")
	require.NoError(t, err)

	id, err := DecodeIdentity(data, "pw")
	require.NoError(t, err)
	defer id.Destroy()

	assert.True(t, id.Certificate.Equal(leaf.Cert))
	require.Len(t, id.Chain, 1)
	assert.True(t, id.Chain[0].Equal(root.Cert))
}

func TestDecodeIdentityNoPrivateKey(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	inter := root.Intermediate(t, "Issuing CA")

	encoders := map[string]*pkcs12.Encoder{
		"modern":     pkcs12.Modern,
		"legacy rc2": pkcs12.LegacyRC2,
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			data, err := enc.EncodeTrustStore([]*x509.Certificate{root.Cert, inter.Cert}, "pw")
			require.NoError(t, err)

			_, err = DecodeIdentity(data, "pw")
			assert.ErrorIs(t, err, failure.NoPrivateKeyFound)
			assert.NotErrorIs(t, err, failure.CorruptContainer)

			_, err = DecodeIdentity(data, "not it")
			assert.ErrorIs(t, err, failure.WrongPassword)
		})
	}
}

func TestDecodeIdentityLeafAmongManyCAs(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	inter := root.Intermediate(t, "Issuing CA")
	leaf := inter.DefaultLeaf(t, "Registry Clerk")

	data, err := pkcs12.Modern.Encode(leaf.Key, root.Cert, []*x509.Certificate{inter.Cert, leaf.Cert}, "pw")
	require.NoError(t, err)

	id, err := DecodeIdentity(data, "pw")
	require.NoError(t, err)
	defer id.Destroy()

	assert.True(t, id.Certificate.Equal(leaf.Cert))
	assert.Len(t, id.Chain, 2)
}

func TestDecodeIdentityCorrupt(t *testing.T) {
	_, err := DecodeIdentity([]byte("definitely not a pfx"), "pw")
	assert.ErrorIs(t, err, failure.CorruptContainer)

	_, err = DecodeIdentity(nil, "pw")
	assert.ErrorIs(t, err, failure.CorruptContainer)
}

func TestExtractIdentityMissingFile(t *testing.T) {
	_, err := ExtractIdentity(filepath.Join(t.TempDir(), "absent.p12"), "pw")
	assert.ErrorIs(t, err, failure.Configuration)
}

func TestSigningIdentityDestroy(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.DefaultLeaf(t, "Registry Clerk")

	id, err := DecodeIdentity(leaf.PKCS12(t, "pw"), "pw")
	require.NoError(t, err)

	key, ok := id.PrivateKey.(*ecdsa.PrivateKey)
	require.True(t, ok)

	id.Destroy()
	assert.Nil(t, id.PrivateKey)
	assert.Nil(t, id.Certificate)
	assert.Zero(t, key.D.Sign())

	id.Destroy()
	var nilID *SigningIdentity
	nilID.Destroy()
}

func TestLoadChainExcludesSigner(t *testing.T) {
	for n := 0; n <= 3; n++ {
		t.Run(fmt.Sprintf("%d CA files", n), func(t *testing.T) {
			dir := t.TempDir()
			root := testpki.NewRoot(t, "Root CA")
			leaf := root.DefaultLeaf(t, "Registry Clerk")

			testpki.WriteFile(t, dir, "signer.p12", leaf.PKCS12(t, "pw"))
			testpki.WriteFile(t, dir, "signer.pem", testpki.PEM(leaf.Cert))
			for i := 0; i < n; i++ {
				ca := testpki.NewRoot(t, fmt.Sprintf("CA %d", i))
				name := fmt.Sprintf("ca-%d.crt", i)
				if i%2 == 1 {
					testpki.WriteFile(t, dir, fmt.Sprintf("ca-%d.der", i), ca.Cert.Raw)
					continue
				}
				testpki.WriteFile(t, dir, name, testpki.PEM(ca.Cert))
			}

			chain, err := LoadChain(dir, leaf.Cert)
			require.NoError(t, err)
			assert.Len(t, chain, n)
			for _, c := range chain {
				assert.False(t, c.Equal(leaf.Cert))
			}
		})
	}
}

func TestLoadChainDeduplicates(t *testing.T) {
	dir := t.TempDir()
	root := testpki.NewRoot(t, "Root CA")
	inter := root.Intermediate(t, "Issuing CA")
	leaf := inter.DefaultLeaf(t, "Registry Clerk")

	testpki.WriteFile(t, dir, "root.pem", testpki.PEM(root.Cert))
	testpki.WriteFile(t, dir, "root.CER", root.Cert.Raw)
	testpki.WriteFile(t, dir, "bundle.pem", append(testpki.PEM(inter.Cert), testpki.PEM(root.Cert)...))
	testpki.WriteFile(t, dir, "notes.txt", []byte("not a certificate"))
	testpki.WriteFile(t, dir, "broken.crt", []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))

	chain, err := LoadChain(dir, leaf.Cert, inter.Cert)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.Contains(t, string(chain.PEM()), "BEGIN CERTIFICATE")
}

func TestLoadChainMissingDirectory(t *testing.T) {
	chain, err := LoadChain(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestInspect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	root := testpki.NewRoot(t, "Root CA")

	tests := []struct {
		name     string
		notAfter time.Time
		expired  bool
		days     int
	}{
		{"valid", now.Add(30*24*time.Hour + time.Hour), false, 30},
		{"expired", now.Add(-48 * time.Hour), true, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf := root.Leaf(t, "Registry Clerk", "County Court", now.AddDate(-1, 0, 0), tt.notAfter)
			path := testpki.WriteFile(t, t.TempDir(), "clerk.p12", leaf.PKCS12(t, "pw", root.Cert))

			report, err := Inspect(path, "pw", now)
			require.NoError(t, err)
			assert.Equal(t, "Registry Clerk", report.CommonName)
			assert.Equal(t, "County Court", report.Organization)
			assert.Equal(t, "Root CA", report.Issuer)
			assert.Equal(t, tt.expired, report.Expired)
			assert.Equal(t, tt.days, report.DaysUntilExpiry)
			assert.Equal(t, "ECDSA", report.KeyAlgorithm)
			assert.Equal(t, 1, report.ChainLength)
			assert.False(t, report.SelfSigned)
		})
	}

	_, err := Inspect(filepath.Join(t.TempDir(), "missing.p12"), "pw", now)
	assert.True(t, errors.Is(err, failure.Configuration))
}
