package cms

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Common errors
var (
	ErrDigestMismatch    = errors.New("message digest does not match signed content")
	ErrNoSigner          = errors.New("signed data has no signer")
	ErrUnsupportedDigest = errors.New("unsupported digest algorithm")
)

func digestHash(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, true
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, true
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, true
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, true
	}
	return 0, false
}

// SignatureReport describes a detached signature checked against its content.
type SignatureReport struct {
	Signer          *x509.Certificate
	Certificates    []*x509.Certificate
	DigestAlgorithm crypto.Hash
	MessageDigest   []byte
	ComputedDigest  []byte
	SigningTime     time.Time
	// Detached is false when the structure still embeds its content.
	Detached bool
}

// DigestMatches reports whether the signed message digest equals the digest
// recomputed over the content.
func (r *SignatureReport) DigestMatches() bool {
	return len(r.MessageDigest) > 0 && bytes.Equal(r.MessageDigest, r.ComputedDigest)
}

// TrimPadding returns the first DER element of data, dropping the zero
// padding that follows a signature inside a reserved /Contents field.
func TrimPadding(data []byte) ([]byte, error) {
	s := cryptobyte.String(data)
	var (
		elem cryptobyte.String
		tag  cbasn1.Tag
	)
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return nil, fmt.Errorf("%w: cannot read signature container", ErrMalformedDER)
	}
	for _, b := range s {
		if b != 0 {
			return nil, ErrTrailingData
		}
	}
	return []byte(elem), nil
}

// InspectDetached parses a detached SignedData and recomputes the content
// digest without checking the signature value.
func InspectDetached(structure, content []byte) (*SignatureReport, *pkcs7.PKCS7, error) {
	der, err := TrimPadding(structure)
	if err != nil {
		return nil, nil, err
	}
	embedded, err := HasContent(der)
	if err != nil {
		return nil, nil, err
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse signed data: %w", err)
	}
	if len(p7.Signers) == 0 {
		return nil, nil, ErrNoSigner
	}

	alg := p7.Signers[0].DigestAlgorithm.Algorithm
	h, ok := digestHash(alg)
	if !ok || !h.Available() {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedDigest, alg)
	}
	hasher := h.New()
	hasher.Write(content)

	report := &SignatureReport{
		Signer:          p7.GetOnlySigner(),
		Certificates:    p7.Certificates,
		DigestAlgorithm: h,
		ComputedDigest:  hasher.Sum(nil),
		Detached:        !embedded,
	}

	var digest []byte
	if err := p7.UnmarshalSignedAttribute(OIDMessageDigest, &digest); err == nil {
		report.MessageDigest = digest
	}
	var signingTime time.Time
	if err := p7.UnmarshalSignedAttribute(OIDSigningTime, &signingTime); err == nil {
		report.SigningTime = signingTime
	}
	return report, p7, nil
}

// VerifyDetached checks a detached SignedData over content: the message
// digest must match and the signature over the signed attributes must verify
// against the signer certificate. Chain trust is not evaluated.
func VerifyDetached(structure, content []byte) (*SignatureReport, error) {
	report, p7, err := InspectDetached(structure, content)
	if err != nil {
		return nil, err
	}
	if !report.DigestMatches() {
		return report, ErrDigestMismatch
	}
	p7.Content = content
	if err := p7.Verify(); err != nil {
		return report, fmt.Errorf("signature verification failed: %w", err)
	}
	return report, nil
}
