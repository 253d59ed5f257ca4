package signers

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/casetrack/casesign/config"
	"github.com/casetrack/casesign/internal/telemetry"
	"github.com/casetrack/casesign/internal/testpdf"
	"github.com/casetrack/casesign/pdf/reader"
	"github.com/casetrack/casesign/sign/failure"
)

func testOptions(extra ...Option) []Option {
	opts := []Option{
		WithLogger(zerolog.Nop()),
		WithMetrics(telemetry.NewMetrics(noop.NewMeterProvider())),
		WithClock(fixedClock),
	}
	return append(opts, extra...)
}

func TestServiceModeSelection(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		cfg  *config.SigningConfig
		want Mode
	}{
		{"nil config", nil, ModeVisual},
		{"empty", &config.SigningConfig{}, ModeVisual},
		{"path without password", &config.SigningConfig{CertificatePath: f.certPath}, ModeVisual},
		{"password without path", &config.SigningConfig{CertificatePassword: testPassword}, ModeVisual},
		{"both", &config.SigningConfig{CertificatePath: f.certPath, CertificatePassword: testPassword}, ModeCrypto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg, testOptions()...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.Mode())
		})
	}
}

func TestServiceRejectsInvalidConfig(t *testing.T) {
	_, err := NewService(&config.SigningConfig{BytesReserved: 100}, testOptions()...)
	assert.ErrorIs(t, err, failure.Configuration)
	assert.ErrorIs(t, err, config.ErrConfigurationError)
}

func TestServiceCryptoSign(t *testing.T) {
	f := newFixture(t)
	signer := &fakeSigner{}
	svc, err := NewService(&config.SigningConfig{
		CertificatePath:     f.certPath,
		CertificatePassword: testPassword,
		SignerName:          "Records Office",
		Location:            "Registry",
		Reason:              "Default reason",
	}, testOptions(WithExternalSigner(signer))...)
	require.NoError(t, err)

	original := testpdf.Build(testpdf.Options{Pages: 2})
	signed, err := svc.Sign(context.Background(), NewSignatureRequest(original, Metadata{Reason: "Judgment"}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), signer.calls.Load())

	sig, _ := checkSigned(t, signed)
	assert.Equal(t, "Records Office", sig.Name())
	assert.Equal(t, "Judgment", sig.Reason())
	assert.Equal(t, "Registry", sig.Location())
	assert.Equal(t, "D:20260309143000Z", sig.SigningTime())
}

func TestServiceVisualSign(t *testing.T) {
	svc, err := NewService(&config.SigningConfig{SignerName: "Records Office"}, testOptions()...)
	require.NoError(t, err)

	out, err := svc.Sign(context.Background(), NewSignatureRequest(testpdf.Build(testpdf.Options{}), Metadata{}))
	require.NoError(t, err)

	r, err := reader.NewPdfFileReaderFromBytes(out)
	require.NoError(t, err)
	assert.Contains(t, lastContent(t, r), "(Digitally signed by Records Office) Tj")
}

func TestServiceRequestConsumedOnce(t *testing.T) {
	svc, err := NewService(nil, testOptions()...)
	require.NoError(t, err)

	req := NewSignatureRequest(testpdf.Build(testpdf.Options{}), Metadata{})
	_, err = svc.Sign(context.Background(), req)
	require.NoError(t, err)

	out, err := svc.Sign(context.Background(), req)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, failure.Configuration)

	_, err = req.Consume()
	assert.Error(t, err)
}

func TestServiceFailureReturnsNoDocument(t *testing.T) {
	f := newFixture(t)
	svc, err := NewService(&config.SigningConfig{
		CertificatePath:     f.certPath,
		CertificatePassword: "not it",
	}, testOptions(WithExternalSigner(&fakeSigner{}))...)
	require.NoError(t, err)

	out, err := svc.Sign(context.Background(), NewSignatureRequest(testpdf.Build(testpdf.Options{}), Metadata{}))
	assert.Nil(t, out)

	fe := failure.As(err)
	require.NotNil(t, fe)
	assert.Equal(t, failure.WrongPassword, fe.Kind)
	assert.Equal(t, failure.Result{Kind: failure.WrongPassword, Message: fe.Message, Retryable: false}, fe.Result())
}

func TestServiceLogsFailureKind(t *testing.T) {
	var logs bytes.Buffer
	svc, err := NewService(nil, testOptions(WithLogger(zerolog.New(&logs)))...)
	require.NoError(t, err)

	_, err = svc.Sign(context.Background(), NewSignatureRequest([]byte("garbage"), Metadata{}))
	assert.ErrorIs(t, err, failure.MalformedPDF)
	assert.Contains(t, logs.String(), `"kind":"malformed_pdf"`)
	assert.Contains(t, logs.String(), `"call_id":`)
	assert.Contains(t, logs.String(), `"level":"error"`)
}

func TestServiceSignAsync(t *testing.T) {
	f := newFixture(t)
	svc, err := NewService(&config.SigningConfig{
		CertificatePath:     f.certPath,
		CertificatePassword: testPassword,
	}, testOptions(WithExternalSigner(&fakeSigner{}))...)
	require.NoError(t, err)

	results := make([]<-chan SignResult, 4)
	for i := range results {
		results[i] = svc.SignAsync(context.Background(), NewSignatureRequest(testpdf.Build(testpdf.Options{Pages: i + 1}), Metadata{}))
	}
	for _, ch := range results {
		res, ok := <-ch
		require.True(t, ok)
		require.NoError(t, res.Err)
		checkSigned(t, res.PDF)

		_, ok = <-ch
		assert.False(t, ok)
	}
}

func TestCallID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", CallID(ctx))
	assert.Equal(t, "abc", CallID(WithCallID(ctx, "abc")))
}
