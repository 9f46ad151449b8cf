// Package xades produces and checks enveloped XAdES-style signatures over
// record documents: an exclusive-C14N, RSA-SHA256 XML-DSig block that also
// signs a SignedProperties element binding the signing time and certificate.
package xades

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Namespaces and algorithm identifiers
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"

	AlgorithmSHA256       = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmRSASHA256    = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmEnveloped    = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	TypeSignedProperties  = "http://uri.etsi.org/01903#SignedProperties"
	signingTimeLayout     = "2006-01-02T15:04:05Z07:00"
	signatureElementLocal = "Signature"
)

var canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

// canonicalAlgorithm is the transform and canonicalization method URI
func canonicalAlgorithm() string {
	return string(canonicalizer.Algorithm())
}

// canonicalize returns the exclusive canonical form of el without touching it
func canonicalize(el *etree.Element) ([]byte, error) {
	out, err := canonicalizer.Canonicalize(el.Copy())
	if err != nil {
		return nil, fmt.Errorf("canonicalization failed: %w", err)
	}
	return out, nil
}

// digest canonicalizes el and returns its base64 SHA-256 digest
func digest(el *etree.Element) (string, error) {
	canon, err := canonicalize(el)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// documentDigest applies the enveloped-signature transform to root and
// digests the result
func documentDigest(root *etree.Element) (string, error) {
	clone := root.Copy()
	if sig := findSignature(clone); sig != nil && sig.Parent() != nil {
		sig.Parent().RemoveChild(sig)
	}
	return digest(clone)
}

// findSignature returns the first XML-DSig Signature element under el
func findSignature(el *etree.Element) *etree.Element {
	if el.Tag == signatureElementLocal && (el.Space == "ds" || el.NamespaceURI() == NamespaceDS) {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findSignature(child); found != nil {
			return found
		}
	}
	return nil
}

// child returns the first direct child of el with the given local name
func child(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// path walks direct children by local name
func path(el *etree.Element, locals ...string) *etree.Element {
	for _, local := range locals {
		el = child(el, local)
		if el == nil {
			return nil
		}
	}
	return el
}

// findByID returns the element under el whose Id attribute equals id
func findByID(el *etree.Element, id string) *etree.Element {
	if el.SelectAttrValue("Id", "") == id {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
