package signers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/casetrack/casesign/keys"
	"github.com/casetrack/casesign/sign/cms"
	"github.com/casetrack/casesign/sign/failure"
)

// CryptoStrategy embeds a detached PKCS#7 signature made with the identity in
// a PKCS#12 container.
type CryptoStrategy struct {
	CertificatePath string
	Password        string
	// ChainDir is scanned for CA certificates; the container's directory when
	// empty.
	ChainDir      string
	BytesReserved int
	Signer        ExternalSigner
	// VerifyAfterSign checks the embedded signature against the byte range
	// before the document is returned.
	VerifyAfterSign bool
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Mode returns ModeCrypto.
func (s *CryptoStrategy) Mode() Mode { return ModeCrypto }

// Sign runs the full pipeline. The identity is destroyed before returning.
func (s *CryptoStrategy) Sign(ctx context.Context, pdf []byte, meta Metadata) ([]byte, error) {
	log := s.Logger.With().Str("call_id", CallID(ctx)).Logger()

	id, err := keys.ExtractIdentity(s.CertificatePath, s.Password)
	if err != nil {
		return nil, err
	}
	defer id.Destroy()

	loader := keys.ChainLoader{Logger: log}
	chain, err := loader.LoadChain(s.chainDir(), id.Certificate, id.Chain...)
	if err != nil {
		return nil, failure.New(failure.Configuration, "certificate chain directory is not readable", err)
	}

	name := meta.Name
	if name == "" {
		name = id.Certificate.Subject.CommonName
	}
	reserved := s.BytesReserved
	if reserved <= 0 {
		reserved = DefaultBytesReserved
	}
	placeholder, err := ReservePlaceholder(pdf, SignatureObjectOptions{
		Name:          name,
		Location:      meta.Location,
		Reason:        meta.Reason,
		ContactInfo:   meta.ContactInfo,
		BytesReserved: reserved,
		Timestamp:     s.now(),
	})
	if err != nil {
		return nil, err
	}
	log.Debug().
		Int("bytes_reserved", reserved).
		Int("chain_size", len(chain)).
		Ints64("byte_range", placeholder.ByteRange[:]).
		Msg("placeholder reserved")

	content := placeholder.SignedContent()
	attached, err := s.Signer.Sign(ctx, content, id, chain)
	if err != nil {
		return nil, failure.Wrap(err, failure.SigningFailed, "external signer failed")
	}
	detached, err := cms.StripContent(attached)
	if err != nil {
		return nil, failure.New(failure.SigningFailed, "signing toolkit returned an unusable structure", err)
	}

	signed, err := placeholder.Fill(detached)
	if err != nil {
		return nil, err
	}

	if s.VerifyAfterSign {
		if _, err := cms.VerifyDetached(detached, content); err != nil {
			return nil, failure.New(failure.SigningFailed, "signature does not verify against the document", err)
		}
	}
	return signed, nil
}

func (s *CryptoStrategy) chainDir() string {
	if s.ChainDir != "" {
		return s.ChainDir
	}
	return dirOf(s.CertificatePath)
}

func (s *CryptoStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
