package keys

import (
	"math"
	"strings"
	"time"
)

// CertificateReport summarises a signer certificate for operators checking a
// container before enabling cryptographic signing.
type CertificateReport struct {
	CommonName      string    `json:"common_name"`
	Organization    string    `json:"organization,omitempty"`
	Issuer          string    `json:"issuer"`
	SerialNumber    string    `json:"serial_number"`
	NotBefore       time.Time `json:"not_before"`
	NotAfter        time.Time `json:"not_after"`
	Expired         bool      `json:"expired"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Fingerprint     string    `json:"fingerprint_sha256"`
	SelfSigned      bool      `json:"self_signed"`
	KeyAlgorithm    string    `json:"key_algorithm"`
	ChainLength     int       `json:"chain_length"`
}

// Inspect opens the container at path and reports on its signer certificate.
// It only parses; no signing toolkit is involved.
func Inspect(path, password string, now time.Time) (*CertificateReport, error) {
	id, err := ExtractIdentity(path, password)
	if err != nil {
		return nil, err
	}
	defer id.Destroy()
	return Report(id, now), nil
}

// Report builds a CertificateReport for an already extracted identity.
func Report(id *SigningIdentity, now time.Time) *CertificateReport {
	cert := id.Certificate
	issuer := cert.Issuer.CommonName
	if issuer == "" {
		issuer = cert.Issuer.String()
	}

	remaining := cert.NotAfter.Sub(now)
	days := int(math.Floor(remaining.Hours() / 24))

	return &CertificateReport{
		CommonName:      cert.Subject.CommonName,
		Organization:    strings.Join(cert.Subject.Organization, ", "),
		Issuer:          issuer,
		SerialNumber:    cert.SerialNumber.Text(16),
		NotBefore:       cert.NotBefore,
		NotAfter:        cert.NotAfter,
		Expired:         now.After(cert.NotAfter),
		DaysUntilExpiry: days,
		Fingerprint:     Fingerprint(cert),
		SelfSigned:      isSelfSigned(cert),
		KeyAlgorithm:    GetKeyInfo(id.PrivateKey).Algorithm,
		ChainLength:     len(id.Chain),
	}
}
