package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/casetrack/casesign/sign/failure"
)

// SigningIdentity is the key material extracted from a PKCS#12 container. It
// lives for one signing call and must be released with Destroy.
type SigningIdentity struct {
	PrivateKey  PrivateKey
	Certificate *x509.Certificate
	// Chain holds the CA certificates bundled in the container, if any.
	Chain []*x509.Certificate
}

// Destroy zeroes the private scalars and drops all references. It is safe to
// call more than once and on a nil identity.
func (id *SigningIdentity) Destroy() {
	if id == nil {
		return
	}
	switch k := id.PrivateKey.(type) {
	case *rsa.PrivateKey:
		if k.D != nil {
			k.D.SetInt64(0)
		}
		for _, p := range k.Primes {
			p.SetInt64(0)
		}
		k.Precomputed = rsa.PrecomputedValues{}
	case *ecdsa.PrivateKey:
		if k.D != nil {
			k.D.SetInt64(0)
		}
	case ed25519.PrivateKey:
		clear(k)
	}
	id.PrivateKey = nil
	id.Certificate = nil
	id.Chain = nil
}

// ExtractIdentity reads a PKCS#12 container from path and extracts the
// signing identity protected by password.
func ExtractIdentity(path, password string) (*SigningIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.New(failure.Configuration, "certificate container is not readable", err)
	}
	return DecodeIdentity(data, password)
}

// DecodeIdentity extracts a signing identity from PKCS#12 data.
//
// Three decoders are tried in turn. DecodeChain accepts any number of safes
// but at most one key; its certificates are searched for the one matching
// the key, so the leaf need not be the first certificate bag. ToPEM accepts
// several keys in the usual two-safe layout. A container that only decodes
// as a trust store holds certificates without a key.
func DecodeIdentity(data []byte, password string) (*SigningIdentity, error) {
	if len(data) == 0 {
		return nil, failure.Newf(failure.CorruptContainer, "certificate container is empty")
	}

	id, chainErr := decodeChain(data, password)
	if chainErr == nil {
		return id, nil
	}
	if isPasswordError(chainErr) {
		return nil, failure.New(failure.WrongPassword, "incorrect certificate password", chainErr)
	}
	if fe := asFailure(chainErr); fe != nil {
		return nil, fe
	}

	id, bagsErr := decodeBags(data, password)
	if bagsErr == nil {
		return id, nil
	}
	if isPasswordError(bagsErr) {
		return nil, failure.New(failure.WrongPassword, "incorrect certificate password", bagsErr)
	}
	if fe := asFailure(bagsErr); fe != nil {
		return nil, fe
	}

	if certs, err := pkcs12.DecodeTrustStore(data, password); err == nil && len(certs) > 0 {
		return nil, failure.New(failure.NoPrivateKeyFound, "certificate container holds no private key",
			errors.Join(chainErr, bagsErr))
	}
	return nil, failure.New(failure.CorruptContainer, "certificate container could not be parsed",
		errors.Join(chainErr, bagsErr))
}

func decodeChain(data []byte, password string) (*SigningIdentity, error) {
	raw, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, err
	}
	key, err := toPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return pickCertificate([]PrivateKey{key}, append([]*x509.Certificate{cert}, caCerts...))
}

func decodeBags(data []byte, password string) (*SigningIdentity, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, err
	}

	var (
		candidates []PrivateKey
		certs      []*x509.Certificate
	)
	for _, block := range blocks {
		switch block.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			key, err := ParsePrivateKeyDER(block.Bytes)
			if err != nil {
				continue
			}
			candidates = append(candidates, key)
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("certificate bag: %w", err)
			}
			certs = append(certs, cert)
		}
	}

	if len(candidates) == 0 {
		return nil, failure.Newf(failure.NoPrivateKeyFound, "certificate container holds no private key")
	}
	return pickCertificate(candidates, certs)
}

// pickCertificate pairs the first key with the certificate carrying its
// public half. The remaining certificates form the embedded chain.
func pickCertificate(candidates []PrivateKey, certs []*x509.Certificate) (*SigningIdentity, error) {
	for _, key := range candidates {
		for i, cert := range certs {
			if !MatchesCertificate(key, cert) {
				continue
			}
			chain := make([]*x509.Certificate, 0, len(certs)-1)
			chain = append(chain, certs[:i]...)
			chain = append(chain, certs[i+1:]...)
			return &SigningIdentity{PrivateKey: key, Certificate: cert, Chain: chain}, nil
		}
	}
	return nil, failure.New(failure.NoPrivateKeyFound,
		"certificate container holds no private key matching its certificates", ErrKeyMismatch)
}

func asFailure(err error) *failure.Error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

func isPasswordError(err error) bool {
	return errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption)
}
