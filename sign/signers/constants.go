// Package signers produces signed PDFs: it reserves the signature
// placeholder, obtains a signed-data structure from an external signer,
// strips it to detached form and embeds it. A visual-only strategy covers
// deployments without signing credentials.
package signers

import "time"

// DefaultMD is the message digest used for every signature.
const DefaultMD = "sha256"

// DefaultSigSubFilter is the /SubFilter written to signature dictionaries.
const DefaultSigSubFilter = "adbe.pkcs7.detached"

// DefaultBytesReserved is the DER capacity reserved in /Contents. It fits a
// signer certificate with a few intermediate and root certificates.
const DefaultBytesReserved = 16 * 1024

// DefaultToolkitTimeout bounds a single toolkit invocation.
const DefaultToolkitTimeout = 10 * time.Second

// DefaultToolkit is the command looked up on PATH when none is configured.
const DefaultToolkit = "openssl"
