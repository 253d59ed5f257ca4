package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/casetrack/casesign/keys"
)

// InspectCmd reports on the signer certificate of a container without
// signing anything.
type InspectCmd struct {
	Cert     string `help:"PKCS#12 container." type:"existingfile" required:""`
	Password string `help:"Container password." env:"CASESIGN_CERT_PASSWORD"`
	JSON     bool   `help:"Output the report in JSON format." name:"json"`
}

func (c *InspectCmd) Run(g *Globals) error {
	report, err := keys.Inspect(c.Cert, c.Password, time.Now())
	if err != nil {
		return err
	}

	if c.JSON {
		encoder := json.NewEncoder(g.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	w := g.Stdout
	fmt.Fprintf(w, "Subject: %s\n", report.CommonName)
	if report.Organization != "" {
		fmt.Fprintf(w, "Organization: %s\n", report.Organization)
	}
	fmt.Fprintf(w, "Issuer: %s\n", report.Issuer)
	fmt.Fprintf(w, "Serial: %s\n", report.SerialNumber)
	fmt.Fprintf(w, "Valid: %s to %s\n", report.NotBefore.Format(time.RFC3339), report.NotAfter.Format(time.RFC3339))
	if report.Expired {
		fmt.Fprintf(w, "WARNING: Certificate is expired!\n")
	} else {
		fmt.Fprintf(w, "Days until expiry: %d\n", report.DaysUntilExpiry)
	}
	fmt.Fprintf(w, "Fingerprint (SHA-256): %s\n", report.Fingerprint)
	fmt.Fprintf(w, "Key algorithm: %s\n", report.KeyAlgorithm)
	fmt.Fprintf(w, "Self-signed: %v\n", report.SelfSigned)
	fmt.Fprintf(w, "Chain certificates in container: %d\n", report.ChainLength)
	return nil
}
