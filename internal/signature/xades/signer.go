package xades

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rezonia/invoice-compliance/internal/signature"
)

var _ signature.Signer = (*Signer)(nil)

// Signer embeds an enveloped signature into record documents
type Signer struct {
	bundle *Bundle
	clock  clockwork.Clock
	newID  func() string
}

// Option configures a Signer
type Option func(*Signer)

// WithClock sets the clock used for the signing time and validity checks
func WithClock(c clockwork.Clock) Option {
	return func(s *Signer) {
		s.clock = c
	}
}

// WithIDGenerator overrides how signature element ids are generated
func WithIDGenerator(fn func() string) Option {
	return func(s *Signer) {
		s.newID = fn
	}
}

// NewSigner creates a signer for bundle. It fails with a load error when
// the certificate is outside its validity window.
func NewSigner(bundle *Bundle, opts ...Option) (*Signer, error) {
	if bundle == nil || bundle.Key == nil || bundle.Certificate == nil {
		return nil, signature.ErrCertLoad("incomplete signing bundle", nil)
	}

	s := &Signer{
		bundle: bundle,
		clock:  clockwork.NewRealClock(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := bundle.CheckValidity(s.clock.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSignerFromFile loads a PKCS#12 bundle from path and creates a signer
func NewSignerFromFile(path, password string, opts ...Option) (*Signer, error) {
	bundle, err := LoadBundleFile(path, password)
	if err != nil {
		return nil, err
	}
	return NewSigner(bundle, opts...)
}

// Bundle returns the signing identity
func (s *Signer) Bundle() *Bundle {
	return s.bundle
}

// Sign returns a copy of document with a ds:Signature inserted as the first
// child of the root element. The rest of the document is left byte-for-byte
// as parsed.
func (s *Signer) Sign(ctx context.Context, document []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return nil, signature.ErrMalformedDocument(err)
	}
	root := doc.Root()
	if root == nil {
		return nil, signature.ErrMalformedDocument(fmt.Errorf("document has no root element"))
	}
	if findSignature(root) != nil {
		return nil, signature.ErrAlreadySigned()
	}

	docDigest, err := documentDigest(root)
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}

	id := s.newID()
	sigID := "Signature-" + id
	propsID := sigID + "-SignedProperties"

	props := s.signedProperties(propsID)
	propsDigest, err := digest(props)
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}

	signedInfo := buildSignedInfo(docDigest, propsID, propsDigest)
	canonInfo, err := canonicalize(signedInfo)
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}

	hashed := sha256.Sum256(canonInfo)
	value, err := rsa.SignPKCS1v15(rand.Reader, s.bundle.Key, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}

	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NamespaceDS)
	sig.CreateAttr("Id", sigID)
	sig.AddChild(signedInfo)
	sigValue := sig.CreateElement("ds:SignatureValue")
	sigValue.CreateAttr("Id", sigID+"-SignatureValue")
	sigValue.SetText(base64.StdEncoding.EncodeToString(value))
	sig.AddChild(s.keyInfo())

	object := sig.CreateElement("ds:Object")
	qualifying := object.CreateElement("xades:QualifyingProperties")
	qualifying.CreateAttr("xmlns:xades", NamespaceXAdES)
	qualifying.CreateAttr("Target", "#"+sigID)
	qualifying.AddChild(props)

	root.InsertChildAt(0, sig)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}
	return out, nil
}

// signedProperties declares its own namespaces so its canonical form does
// not depend on where it sits in the tree
func (s *Signer) signedProperties(id string) *etree.Element {
	cert := s.bundle.Certificate
	certSum := sha256.Sum256(cert.Raw)

	props := etree.NewElement("xades:SignedProperties")
	props.CreateAttr("xmlns:xades", NamespaceXAdES)
	props.CreateAttr("xmlns:ds", NamespaceDS)
	props.CreateAttr("Id", id)

	sigProps := props.CreateElement("xades:SignedSignatureProperties")
	sigProps.CreateElement("xades:SigningTime").SetText(s.clock.Now().UTC().Format(signingTimeLayout))

	certEl := sigProps.CreateElement("xades:SigningCertificate").CreateElement("xades:Cert")
	certDigest := certEl.CreateElement("xades:CertDigest")
	certDigest.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgorithmSHA256)
	certDigest.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(certSum[:]))

	issuerSerial := certEl.CreateElement("xades:IssuerSerial")
	issuerSerial.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
	issuerSerial.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())

	return props
}

func buildSignedInfo(docDigest, propsID, propsDigest string) *etree.Element {
	info := etree.NewElement("ds:SignedInfo")
	info.CreateAttr("xmlns:ds", NamespaceDS)
	info.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", canonicalAlgorithm())
	info.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", AlgorithmRSASHA256)

	docRef := info.CreateElement("ds:Reference")
	docRef.CreateAttr("URI", "")
	transforms := docRef.CreateElement("ds:Transforms")
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", AlgorithmEnveloped)
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", canonicalAlgorithm())
	docRef.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgorithmSHA256)
	docRef.CreateElement("ds:DigestValue").SetText(docDigest)

	propsRef := info.CreateElement("ds:Reference")
	propsRef.CreateAttr("URI", "#"+propsID)
	propsRef.CreateAttr("Type", TypeSignedProperties)
	propsRef.CreateElement("ds:Transforms").CreateElement("ds:Transform").CreateAttr("Algorithm", canonicalAlgorithm())
	propsRef.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgorithmSHA256)
	propsRef.CreateElement("ds:DigestValue").SetText(propsDigest)

	return info
}

func (s *Signer) keyInfo() *etree.Element {
	keyInfo := etree.NewElement("ds:KeyInfo")
	data := keyInfo.CreateElement("ds:X509Data")
	data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(s.bundle.Certificate.Raw))
	for _, c := range s.bundle.Chain {
		data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(c.Raw))
	}
	return keyInfo
}
