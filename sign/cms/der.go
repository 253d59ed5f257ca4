// Package cms handles the CMS SignedData structures embedded in PDF
// signatures: generic DER surgery to detach encapsulated content, and
// inspection/verification of signatures read back from a document.
package cms

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Common errors
var (
	ErrMalformedDER    = errors.New("malformed DER encoding")
	ErrTrailingData    = errors.New("trailing data after DER element")
	ErrNotSignedData   = errors.New("content type is not signedData")
	ErrUnexpectedShape = errors.New("unexpected SignedData layout")
)

const constructedBit = 0x20

// Node is one element of a parsed DER tree. Constructed elements carry
// Children; primitive elements carry Content.
type Node struct {
	Tag      cbasn1.Tag
	Content  []byte
	Children []*Node
}

// Constructed reports whether the element uses the constructed encoding.
func (n *Node) Constructed() bool {
	return n.Tag&constructedBit != 0
}

// ParseNode parses exactly one DER element from der.
func ParseNode(der []byte) (*Node, error) {
	s := cryptobyte.String(der)
	n, err := readNode(&s, 0)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(s))
	}
	return n, nil
}

// Nesting deeper than this is not produced by any CMS encoder.
const maxDepth = 64

func readNode(s *cryptobyte.String, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrMalformedDER)
	}
	var (
		content cryptobyte.String
		tag     cbasn1.Tag
	)
	if !s.ReadAnyASN1(&content, &tag) {
		return nil, fmt.Errorf("%w: cannot read element header or length", ErrMalformedDER)
	}

	n := &Node{Tag: tag}
	if !n.Constructed() {
		n.Content = bytes.Clone(content)
		return n, nil
	}
	for !content.Empty() {
		child, err := readNode(&content, depth+1)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// Marshal re-serializes the tree with minimal DER length encoding.
func (n *Node) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	n.build(&b)
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDER, err)
	}
	return out, nil
}

func (n *Node) build(b *cryptobyte.Builder) {
	b.AddASN1(n.Tag, func(child *cryptobyte.Builder) {
		if !n.Constructed() {
			child.AddBytes(n.Content)
			return
		}
		for _, c := range n.Children {
			c.build(child)
		}
	})
}

// Child returns the i-th child or nil when out of range.
func (n *Node) Child(i int) *Node {
	if n == nil || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// Remove drops the i-th child.
func (n *Node) Remove(i int) {
	n.Children = append(n.Children[:i], n.Children[i+1:]...)
}
