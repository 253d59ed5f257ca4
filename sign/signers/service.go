package signers

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casetrack/casesign/config"
	"github.com/casetrack/casesign/internal/telemetry"
	"github.com/casetrack/casesign/sign/failure"
)

// Mode names the strategy a Service uses.
type Mode string

const (
	ModeVisual Mode = "visual"
	ModeCrypto Mode = "crypto"
)

// Metadata is the display information attached to a signature.
type Metadata struct {
	Name        string
	Reason      string
	Location    string
	ContactInfo string
}

// Strategy turns an unsigned document into a signed one.
type Strategy interface {
	Mode() Mode
	Sign(ctx context.Context, pdf []byte, meta Metadata) ([]byte, error)
}

// SignatureRequest carries a document to the service. Its buffer can be
// consumed once.
type SignatureRequest struct {
	Metadata Metadata

	pdf      []byte
	consumed atomic.Bool
}

// NewSignatureRequest wraps pdf and its metadata.
func NewSignatureRequest(pdf []byte, meta Metadata) *SignatureRequest {
	return &SignatureRequest{pdf: pdf, Metadata: meta}
}

// Consume hands the document over and invalidates the request.
func (r *SignatureRequest) Consume() ([]byte, error) {
	if r == nil || !r.consumed.CompareAndSwap(false, true) {
		return nil, failure.Newf(failure.Configuration, "signature request was already consumed")
	}
	pdf := r.pdf
	r.pdf = nil
	return pdf, nil
}

// SignResult is delivered by SignAsync.
type SignResult struct {
	PDF []byte
	Err error
}

type callIDKey struct{}

// WithCallID tags ctx with a call identifier used in logs and temp names.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the identifier set by WithCallID, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithExternalSigner replaces the toolkit signer.
func WithExternalSigner(signer ExternalSigner) Option {
	return func(s *Service) { s.signer = signer }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the time source for signing timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service signs documents with the strategy chosen at construction.
type Service struct {
	strategy Strategy
	defaults Metadata
	logger   zerolog.Logger
	signer   ExternalSigner
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewService selects the crypto strategy when cfg carries both a certificate
// path and a password, and the visual strategy otherwise. The choice is
// fixed for the lifetime of the service.
func NewService(cfg *config.SigningConfig, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = &config.SigningConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, failure.New(failure.Configuration, "invalid signing configuration", err)
	}

	s := &Service{
		logger: zerolog.Nop(),
		now:    time.Now,
		defaults: Metadata{
			Name:        cfg.SignerName,
			Reason:      cfg.Reason,
			Location:    cfg.Location,
			ContactInfo: cfg.ContactInfo,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.GetMetrics()
	}

	if cfg.CryptoEnabled() {
		if s.signer == nil {
			s.signer = &OpenSSLSigner{
				Path:     cfg.Toolkit,
				Timeout:  cfg.ToolkitTimeout,
				TempRoot: cfg.TempDir,
				Logger:   s.logger,
			}
		}
		s.strategy = &CryptoStrategy{
			CertificatePath: cfg.CertificatePath,
			Password:        cfg.CertificatePassword,
			ChainDir:        cfg.ChainDir,
			BytesReserved:   cfg.BytesReserved,
			Signer:          s.signer,
			VerifyAfterSign: cfg.ShouldVerify(),
			Logger:          s.logger,
			Now:             s.now,
		}
	} else {
		s.strategy = &VisualStrategy{Logger: s.logger, Now: s.now}
	}
	return s, nil
}

// Mode returns the selected strategy.
func (s *Service) Mode() Mode { return s.strategy.Mode() }

// Sign consumes req and returns the signed document. On failure no document
// is returned and the error is a *failure.Error.
func (s *Service) Sign(ctx context.Context, req *SignatureRequest) ([]byte, error) {
	callID := uuid.NewString()
	ctx = WithCallID(ctx, callID)
	log := s.logger.With().Str("call_id", callID).Str("mode", string(s.Mode())).Logger()

	start := time.Now()
	out, err := s.sign(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		fe := failure.As(err)
		s.metrics.RecordSign(ctx, string(s.Mode()), string(fe.Kind), elapsed)
		ev := log.Error()
		if fe.Retryable() {
			ev = log.Warn()
		}
		ev.Err(fe.Err).
			Str("kind", string(fe.Kind)).
			Str("detail", fe.Detail).
			Dur("duration", elapsed).
			Msg(fe.Message)
		return nil, fe
	}

	s.metrics.RecordSign(ctx, string(s.Mode()), "ok", elapsed)
	log.Info().Dur("duration", elapsed).Int("size", len(out)).Msg("document signed")
	return out, nil
}

func (s *Service) sign(ctx context.Context, req *SignatureRequest) ([]byte, error) {
	pdf, err := req.Consume()
	if err != nil {
		return nil, err
	}
	return s.strategy.Sign(ctx, pdf, s.metadata(req.Metadata))
}

// SignAsync runs Sign on its own goroutine. The channel receives exactly one
// result and is then closed.
func (s *Service) SignAsync(ctx context.Context, req *SignatureRequest) <-chan SignResult {
	results := make(chan SignResult, 1)
	go func() {
		defer close(results)
		out, err := s.Sign(ctx, req)
		results <- SignResult{PDF: out, Err: err}
	}()
	return results
}

// metadata fills empty request fields from the configured defaults.
func (s *Service) metadata(m Metadata) Metadata {
	if m.Name == "" {
		m.Name = s.defaults.Name
	}
	if m.Reason == "" {
		m.Reason = s.defaults.Reason
	}
	if m.Location == "" {
		m.Location = s.defaults.Location
	}
	if m.ContactInfo == "" {
		m.ContactInfo = s.defaults.ContactInfo
	}
	return m
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}
