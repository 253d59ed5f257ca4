package signers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/casetrack/casesign/pdf/generic"
	"github.com/casetrack/casesign/pdf/reader"
	"github.com/casetrack/casesign/pdf/writer"
	"github.com/casetrack/casesign/sign/failure"
	"github.com/casetrack/casesign/stamp"
)

// VisualStrategy draws a "Digitally signed by" text block on the last page.
// It adds no cryptographic signature.
type VisualStrategy struct {
	Style  *stamp.StampStyle
	Logger zerolog.Logger
	Now    func() time.Time
}

// Mode returns ModeVisual.
func (s *VisualStrategy) Mode() Mode { return ModeVisual }

func (s *VisualStrategy) Sign(ctx context.Context, pdf []byte, meta Metadata) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.New(failure.SigningFailed, "signing was cancelled", err)
	}
	r, err := reader.NewPdfFileReaderFromBytes(pdf)
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "document cannot be read", err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	block := stamp.NewTextStamp(stamp.Details{
		SignerName:  meta.Name,
		SigningTime: now(),
		Reason:      meta.Reason,
		Location:    meta.Location,
		ContactInfo: meta.ContactInfo,
	}.Lines(), s.Style)
	content, err := block.Render()
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "signature stamp could not be rendered", err)
	}

	w := writer.NewIncrementalWriter(r)
	fonts := map[string]generic.PdfObject{stamp.FontResource: block.Font()}
	if err := w.AppendPageContent(r.PageCount()-1, content, fonts); err != nil {
		return nil, failure.New(failure.MalformedPDF, "last page cannot be stamped", err)
	}
	out, err := w.Bytes()
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "document update could not be written", err)
	}
	s.Logger.Debug().Str("call_id", CallID(ctx)).Int("pages", r.PageCount()).Msg("visual stamp applied")
	return out, nil
}
