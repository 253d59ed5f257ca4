package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/casetrack/casesign/pdf/reader"
	"github.com/casetrack/casesign/sign/cms"
	"github.com/casetrack/casesign/sign/failure"
)

// ErrInvalidSignatures is returned when at least one signature fails.
var ErrInvalidSignatures = errors.New("document has invalid signatures")

// VerifyCmd checks every embedded signature cryptographically. Certificate
// trust and revocation are not evaluated.
type VerifyCmd struct {
	File string `arg:"" help:"PDF document to check." type:"existingfile"`
	JSON bool   `help:"Output results in JSON format." name:"json"`
}

// VerifyOutput is the complete verification output.
type VerifyOutput struct {
	File       string          `json:"file"`
	Size       int             `json:"size"`
	Pages      int             `json:"pages"`
	Signatures []*VerifyResult `json:"signatures"`
}

// VerifyResult describes a single signature.
type VerifyResult struct {
	SignatureIndex  int      `json:"signature_index"`
	FieldName       string   `json:"field_name,omitempty"`
	Status          string   `json:"status"`
	SignerName      string   `json:"signer_name,omitempty"`
	Certificate     string   `json:"certificate,omitempty"`
	SigningTime     string   `json:"signing_time,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Location        string   `json:"location,omitempty"`
	SubFilter       string   `json:"sub_filter,omitempty"`
	ByteRange       []int64  `json:"byte_range"`
	CoversWholeFile bool     `json:"covers_whole_file"`
	DigestMatches   bool     `json:"digest_matches"`
	SignatureValid  bool     `json:"signature_valid"`
	Errors          []string `json:"errors,omitempty"`
}

func (c *VerifyCmd) Run(g *Globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.File, err)
	}
	output, err := Verify(data)
	if err != nil {
		return err
	}
	output.File = c.File

	if c.JSON {
		encoder := json.NewEncoder(g.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(output); err != nil {
			return err
		}
	} else {
		outputText(g.Stdout, output)
	}

	for _, result := range output.Signatures {
		if result.Status != "VALID" {
			return ErrInvalidSignatures
		}
	}
	return nil
}

// Verify checks every signature in data.
func Verify(data []byte) (*VerifyOutput, error) {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "document cannot be read", err)
	}
	sigs, err := r.EmbeddedSignatures()
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "signature fields cannot be read", err)
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signatures found in the PDF")
	}

	output := &VerifyOutput{Size: len(data), Pages: r.PageCount()}
	for i, sig := range sigs {
		output.Signatures = append(output.Signatures, verifyOne(i+1, sig, data))
	}
	return output, nil
}

func verifyOne(index int, sig *reader.EmbeddedSignature, data []byte) *VerifyResult {
	result := &VerifyResult{
		SignatureIndex:  index,
		FieldName:       sig.FieldName,
		Status:          "INVALID",
		SignerName:      sig.Name(),
		SigningTime:     sig.SigningTime(),
		Reason:          sig.Reason(),
		Location:        sig.Location(),
		SubFilter:       sig.SubFilter(),
		ByteRange:       sig.ByteRange,
		CoversWholeFile: sig.CoversWholeFile(int64(len(data))),
	}

	content, err := sig.SignedContent(data)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	report, err := cms.VerifyDetached(sig.Contents, content)
	if report != nil {
		result.DigestMatches = report.DigestMatches()
		if report.Signer != nil {
			result.Certificate = report.Signer.Subject.CommonName
		}
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.SignatureValid = true
	result.Status = "VALID"
	return result
}

func outputText(w io.Writer, output *VerifyOutput) {
	fmt.Fprintf(w, "PDF Verification Results\n")
	fmt.Fprintf(w, "========================\n\n")
	fmt.Fprintf(w, "Found %d signature(s) in %s (%d bytes, %d pages)\n\n",
		len(output.Signatures), output.File, output.Size, output.Pages)

	for _, result := range output.Signatures {
		fmt.Fprintf(w, "Signature #%d\n", result.SignatureIndex)
		fmt.Fprintf(w, "------------\n")
		fmt.Fprintf(w, "  Status: %s %s\n", getStatusIcon(result.Status), result.Status)
		if result.FieldName != "" {
			fmt.Fprintf(w, "  Field: %s\n", result.FieldName)
		}
		fmt.Fprintf(w, "  Byte range: %v (whole file: %s)\n", result.ByteRange, boolToStatus(result.CoversWholeFile))
		fmt.Fprintf(w, "  Digest: %s\n", boolToStatus(result.DigestMatches))
		fmt.Fprintf(w, "  Signature: %s\n", boolToStatus(result.SignatureValid))
		if result.SignerName != "" {
			fmt.Fprintf(w, "  Signer: %s\n", result.SignerName)
		}
		if result.Certificate != "" {
			fmt.Fprintf(w, "  Certificate: %s\n", result.Certificate)
		}
		if result.SigningTime != "" {
			fmt.Fprintf(w, "  Signing Time: %s\n", result.SigningTime)
		}
		if result.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", result.Reason)
		}
		if result.Location != "" {
			fmt.Fprintf(w, "  Location: %s\n", result.Location)
		}
		if len(result.Errors) > 0 {
			fmt.Fprintf(w, "\n  Errors:\n")
			for _, e := range result.Errors {
				fmt.Fprintf(w, "    - %s\n", e)
			}
		}
		fmt.Fprintln(w)
	}
}

func getStatusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "INVALID":
		return "[FAIL]"
	default:
		return "[?]"
	}
}

func boolToStatus(b bool) string {
	if b {
		return "OK"
	}
	return "FAILED"
}
