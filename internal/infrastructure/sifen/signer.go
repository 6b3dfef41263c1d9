// Firma XMLDSig enveloped del documento electrónico (rDE/DE) y generación
// del QR v1.50. La referencia apunta al Id del <DE> (el CDC) y el bloque
// <gCamFuFD>/<dCarQR> se inserta como hermano inmediato de <Signature>.

package sifen

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/logger"
	pkgsifen "github.com/facturapy/sifen-worker/pkg/sifen"
)

// Signer firma documentos y les incrusta el QR sellado con el CSC.
type Signer struct {
	qrBaseURL string
	log       *logger.Logger
	now       func() time.Time
}

// NewSigner construye el firmador. qrBaseURL es el prefijo público de la URL
// del QR (URL_SIFEN_QR).
func NewSigner(qrBaseURL string, log *logger.Logger) *Signer {
	return &Signer{qrBaseURL: qrBaseURL, log: log, now: time.Now}
}

// SignAndEmbedQR firma el XML original y devuelve el documento serializado en
// UTF-8 con declaración XML, firma enveloped y QR insertado.
//
// Pasos (manual técnico v1.50):
//  1. parsear descartando whitespace insignificante
//  2. refrescar dFecFirma con la hora local de firma
//  3. ubicar <DE> y su Id (el CDC); sin él no hay nada que firmar
//  4. digest SHA-256 del <DE> canonicalizado, firma RSA-SHA256 del SignedInfo
//  5. QR: query ordenado + cHashQR = SHA-256(query + CSC)
func (s *Signer) SignAndEmbedQR(xmlOriginal string, cred entity.Credentials) (string, error) {
	cert, err := LoadCertificate(cred.CertPath, cred.CertPassword)
	if err != nil {
		return "", err
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("%w: el certificado debe incluir llave privada RSA", domain.ErrCredential)
	}
	leaf, err := LeafCertificate(cert)
	if err != nil {
		return "", err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlOriginal); err != nil {
		return "", fmt.Errorf("%w: parsear XML original: %v", domain.ErrMalformedDocument, err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("%w: documento sin raíz", domain.ErrMalformedDocument)
	}
	stripBlankText(root)

	// dFecFirma lleva la hora local del momento de la firma.
	if fec := findLocal(root, "dFecFirma"); fec != nil {
		fec.SetText(s.now().Format("2006-01-02T15:04:05"))
	} else {
		s.log.Warn().Msg("tag dFecFirma no encontrada; se firma sin actualizarla")
	}

	de := findLocal(root, "DE")
	if de == nil {
		return "", fmt.Errorf("%w: tag DE no encontrada", domain.ErrMalformedDocument)
	}
	cdc := de.SelectAttrValue("Id", "")
	if cdc == "" {
		return "", fmt.Errorf("%w: tag DE sin atributo Id", domain.ErrMalformedDocument)
	}

	// Nota de remisión (tipo 7): gTransp es obligatorio según el manual, pero
	// SIFEN es quien valida; acá solo se avisa y se sigue.
	if textLocal(root, "iTiDE", "") == "7" && findLocal(root, "gTransp") == nil {
		s.log.Warn().Str("cdc", cdc).
			Msg("nota de remisión (tipo 7) sin grupo gTransp; SIFEN puede rechazarla")
	}

	// Digest del <DE> canonicalizado. La copia recibe la declaración del
	// namespace SIFEN si la heredaba del padre: la forma canónica del
	// subárbol la incluye siempre.
	digestB64, err := digestElement(de)
	if err != nil {
		return "", fmt.Errorf("%w: digest del DE: %v", domain.ErrSignature, err)
	}

	signedInfo := buildSignedInfo("#"+cdc, digestB64)
	canonicalSignedInfo, err := canonicalXML([]byte(signedInfo))
	if err != nil {
		return "", fmt.Errorf("%w: canonicalizar SignedInfo: %v", domain.ErrSignature, err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return "", fmt.Errorf("%w: firmar SignedInfo: %v", domain.ErrSignature, err)
	}

	signatureXML := buildSignature(signedInfo,
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(leaf.Raw))

	sigEl, err := parseFragment(signatureXML)
	if err != nil {
		return "", fmt.Errorf("%w: montar nodo Signature: %v", domain.ErrSignature, err)
	}
	root.AddChild(sigEl)

	// QR: el DigestValue viaja como hex de los bytes del string base64 (no de
	// los bytes decodificados). Es el contrato histórico con SIFEN.
	qrURL := pkgsifen.BuildQRURL(s.qrBaseURL, pkgsifen.QRParams{
		CDC:         cdc,
		FechaEmi:    textLocal(root, "dFeEmiDE", "0"),
		RucReceptor: textLocal(root, "dRucRec", "0"),
		TotalGral:   textLocal(root, "dTotGralOpe", "0"),
		TotalIVA:    textLocal(root, "dTotIVA", "0"),
		Items:       countLocal(root, "gCamItem"),
		DigestValue: digestB64,
		CSCID:       cred.CSCID,
	}, cred.CSC)

	s.log.Debug().Str("cdc", cdc).
		Str("digest_hex", hex.EncodeToString([]byte(digestB64))).
		Str("qr", qrURL).
		Msg("QR generado")

	// <gCamFuFD><dCarQR>…</dCarQR></gCamFuFD> como hermano inmediato posterior
	// a <Signature>, con el namespace SIFEN por defecto.
	gCamFuFD := etree.NewElement("gCamFuFD")
	gCamFuFD.CreateAttr("xmlns", pkgsifen.NamespaceSIFEN)
	gCamFuFD.CreateElement("dCarQR").SetText(qrURL)
	root.AddChild(gCamFuFD)

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	out.SetRoot(root)
	serialized, err := out.WriteToString()
	if err != nil {
		return "", fmt.Errorf("%w: serializar XML firmado: %v", domain.ErrSignature, err)
	}
	return serialized, nil
}

// ── firma ─────────────────────────────────────────────────────────────────────

// buildSignedInfo arma el SignedInfo con el namespace xmldsig por defecto
// (sin prefijo), como exige el validador de SIFEN.
func buildSignedInfo(referenceURI, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + pkgsifen.NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + pkgsifen.AlgExcC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + pkgsifen.AlgRSASHA256 + `"/>`)
	sb.WriteString(`<Reference URI="` + referenceURI + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + pkgsifen.TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + pkgsifen.AlgC14N10 + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + pkgsifen.AlgSHA256 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

// buildSignature arma el bloque Signature completo (SignedInfo + SignatureValue + KeyInfo).
func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + pkgsifen.NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// digestElement canonicaliza el subárbol del elemento y devuelve el SHA-256
// en base64, tal como se escribe en DigestValue.
func digestElement(el *etree.Element) (string, error) {
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil {
		cp.CreateAttr("xmlns", pkgsifen.NamespaceSIFEN)
	}
	tmp := etree.NewDocument()
	tmp.SetRoot(cp)
	raw, err := tmp.WriteToBytes()
	if err != nil {
		return "", err
	}
	canonical, err := canonicalXML(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// canonicalXML aplica c14n sobre los bytes de un fragmento XML.
func canonicalXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// parseFragment parsea un fragmento XML y devuelve su elemento raíz desacoplado.
func parseFragment(fragment string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(fragment); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("fragmento sin raíz")
	}
	return root.Copy(), nil
}

// ── helpers de árbol ──────────────────────────────────────────────────────────

// stripBlankText elimina recursivamente los nodos de texto compuestos solo de
// whitespace entre elementos (equivalente a remove_blank_text del parser).
func stripBlankText(el *etree.Element) {
	for i := len(el.Child) - 1; i >= 0; i-- {
		switch t := el.Child[i].(type) {
		case *etree.CharData:
			if t.IsWhitespace() && len(el.ChildElements()) > 0 {
				el.RemoveChildAt(i)
			}
		case *etree.Element:
			stripBlankText(t)
		}
	}
}

// findLocal busca en profundidad el primer elemento con ese nombre local,
// ignorando namespaces.
func findLocal(el *etree.Element, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			return child
		}
		if found := findLocal(child, local); found != nil {
			return found
		}
	}
	return nil
}

// textLocal devuelve el texto (trim) del primer elemento con ese nombre local,
// o def si no existe o está vacío.
func textLocal(el *etree.Element, local, def string) string {
	found := findLocal(el, local)
	if found == nil {
		return def
	}
	if text := strings.TrimSpace(found.Text()); text != "" {
		return text
	}
	return def
}

// countLocal cuenta los descendientes con ese nombre local.
func countLocal(el *etree.Element, local string) int {
	n := 0
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			n++
		}
		n += countLocal(child, local)
	}
	return n
}
