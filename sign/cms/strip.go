package cms

import (
	"bytes"
	"encoding/asn1"
	"fmt"

	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OIDs used when inspecting SignedData.
var (
	OIDData          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSHA1          = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

var explicitZero = cbasn1.Tag(0).ContextSpecific().Constructed()

// encapContentInfo locates SignedData.encapContentInfo inside a parsed
// ContentInfo.
//
//	ContentInfo ::= SEQUENCE { contentType OID, content [0] EXPLICIT SignedData }
//	SignedData  ::= SEQUENCE { version, digestAlgorithms SET, encapContentInfo, ... }
func encapContentInfo(root *Node) (*Node, error) {
	if root.Tag != cbasn1.SEQUENCE || len(root.Children) < 2 {
		return nil, fmt.Errorf("%w: ContentInfo is not a two-field SEQUENCE", ErrUnexpectedShape)
	}
	if !isOID(root.Child(0), OIDSignedData) {
		return nil, ErrNotSignedData
	}
	wrapper := root.Child(1)
	if wrapper.Tag != explicitZero || len(wrapper.Children) != 1 {
		return nil, fmt.Errorf("%w: missing [0] content", ErrUnexpectedShape)
	}
	sd := wrapper.Child(0)
	if sd.Tag != cbasn1.SEQUENCE || len(sd.Children) < 4 {
		return nil, fmt.Errorf("%w: SignedData too short", ErrUnexpectedShape)
	}
	eci := sd.Child(2)
	if eci.Tag != cbasn1.SEQUENCE || len(eci.Children) == 0 || eci.Child(0).Tag != cbasn1.OBJECT_IDENTIFIER {
		return nil, fmt.Errorf("%w: bad encapContentInfo", ErrUnexpectedShape)
	}
	return eci, nil
}

// StripContent converts an attached SignedData into its detached form by
// removing the eContent field and keeping eContentType. The signature is
// computed over the signed attributes, which carry the content digest, so
// removing the embedded copy leaves it valid. Detached input is returned in
// canonical form unchanged.
func StripContent(der []byte) ([]byte, error) {
	root, err := ParseNode(der)
	if err != nil {
		return nil, err
	}
	eci, err := encapContentInfo(root)
	if err != nil {
		return nil, err
	}
	if len(eci.Children) > 1 && eci.Child(1).Tag == explicitZero {
		eci.Remove(1)
	}
	return root.Marshal()
}

// HasContent reports whether the SignedData embeds its content.
func HasContent(der []byte) (bool, error) {
	root, err := ParseNode(der)
	if err != nil {
		return false, err
	}
	eci, err := encapContentInfo(root)
	if err != nil {
		return false, err
	}
	return len(eci.Children) > 1 && eci.Child(1).Tag == explicitZero, nil
}

func isOID(n *Node, oid asn1.ObjectIdentifier) bool {
	if n == nil || n.Tag != cbasn1.OBJECT_IDENTIFIER {
		return false
	}
	want, err := asn1.Marshal(oid)
	if err != nil {
		return false
	}
	got, err := n.Marshal()
	return err == nil && bytes.Equal(got, want)
}
