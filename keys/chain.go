package keys

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// CertificateExtensions lists the file extensions scanned for CA certificates.
var CertificateExtensions = []string{".pem", ".crt", ".cer", ".der"}

// TrustChain is a deduplicated set of CA certificates ordered by fingerprint.
type TrustChain []*x509.Certificate

// PEM returns the chain as concatenated PEM blocks.
func (c TrustChain) PEM() []byte {
	return EncodeCertsPEM(c...)
}

// Fingerprint returns the hex SHA-256 of the certificate's DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// ChainLoader assembles the CA chain for a signer from a certificate directory.
type ChainLoader struct {
	Logger zerolog.Logger
}

// LoadChain reads every certificate file in dir and returns the CA certificates
// other than signer, merged with extra (typically the chain embedded in the
// PKCS#12 container). A missing directory yields an empty chain.
func (l *ChainLoader) LoadChain(dir string, signer *x509.Certificate, extra ...*x509.Certificate) (TrustChain, error) {
	set := make(map[string]*x509.Certificate)
	add := func(cert *x509.Certificate) {
		if signer != nil && bytes.Equal(cert.Raw, signer.Raw) {
			return
		}
		set[Fingerprint(cert)] = cert
	}

	for _, c := range extra {
		add(c)
	}

	if dir != "" {
		entries, err := os.ReadDir(dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			l.Logger.Debug().Str("dir", dir).Msg("chain directory does not exist")
		case err != nil:
			return nil, fmt.Errorf("failed to read chain directory %s: %w", dir, err)
		default:
			for _, entry := range entries {
				if entry.IsDir() || !hasCertificateExtension(entry.Name()) {
					continue
				}
				path := filepath.Join(dir, entry.Name())
				certs, err := LoadCertsFromPemDer(path)
				if err != nil {
					l.Logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable certificate file")
					continue
				}
				for _, c := range certs {
					add(c)
				}
			}
		}
	}

	fingerprints := make([]string, 0, len(set))
	for fp := range set {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	chain := make(TrustChain, 0, len(fingerprints))
	for _, fp := range fingerprints {
		chain = append(chain, set[fp])
	}
	return chain, nil
}

// LoadChain is ChainLoader.LoadChain with a no-op logger.
func LoadChain(dir string, signer *x509.Certificate, extra ...*x509.Certificate) (TrustChain, error) {
	l := &ChainLoader{Logger: zerolog.Nop()}
	return l.LoadChain(dir, signer, extra...)
}

func hasCertificateExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range CertificateExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
