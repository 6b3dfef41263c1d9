// Construcción y firma del evento de cancelación (rGesEve/rEve). A diferencia
// del documento, acá la Signature es hermana de <rEve> dentro de <rGesEve>
// y la referencia apunta al Id fijo "1" del evento (ajuste normativo 0141).

package sifen

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/logger"
	pkgsifen "github.com/facturapy/sifen-worker/pkg/sifen"
)

// EventBuilder arma eventos de gestión firmados para el WS de eventos.
type EventBuilder struct {
	log *logger.Logger
	now func() time.Time
}

// NewEventBuilder construye el generador de eventos.
func NewEventBuilder(log *logger.Logger) *EventBuilder {
	return &EventBuilder{log: log, now: time.Now}
}

// BuildCancelEvent genera el XML del evento de cancelación del CDC dado,
// firmado con el certificado del contribuyente. El resultado es el bloque
// <gGroupGesEve> serializado sin declaración XML, listo para incrustarse en
// el sobre SOAP de rEnviEventoDe.
func (b *EventBuilder) BuildCancelEvent(cdc, reason string, cred entity.Credentials) (string, error) {
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

	// <rEve Id="1"> con el detalle del evento. El Id del evento es fijo; el
	// CDC afectado viaja adentro, en rGeVeCan/Id.
	rEve := etree.NewElement("rEve")
	rEve.CreateAttr("xmlns", pkgsifen.NamespaceSIFEN)
	rEve.CreateAttr("xmlns:xsi", pkgsifen.NamespaceXSI)
	rEve.CreateAttr("Id", "1")
	rEve.CreateElement("dFecFirma").SetText(b.now().Format("2006-01-02T15:04:05"))
	rEve.CreateElement("dVerFor").SetText(pkgsifen.Version)
	gGroupTiEvt := rEve.CreateElement("gGroupTiEvt")
	rGeVeCan := gGroupTiEvt.CreateElement("rGeVeCan")
	rGeVeCan.CreateElement("Id").SetText(cdc)
	rGeVeCan.CreateElement("mOtEve").SetText(reason)

	digestB64, err := digestElement(rEve)
	if err != nil {
		return "", fmt.Errorf("%w: digest del rEve: %v", domain.ErrSignature, err)
	}

	signedInfo := buildSignedInfo("#1", digestB64)
	canonicalSignedInfo, err := canonicalXML([]byte(signedInfo))
	if err != nil {
		return "", fmt.Errorf("%w: canonicalizar SignedInfo del evento: %v", domain.ErrSignature, err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return "", fmt.Errorf("%w: firmar evento: %v", domain.ErrSignature, err)
	}
	signatureXML := buildSignature(signedInfo,
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(leaf.Raw))
	sigEl, err := parseFragment(signatureXML)
	if err != nil {
		return "", fmt.Errorf("%w: montar nodo Signature del evento: %v", domain.ErrSignature, err)
	}

	// rGesEve contiene el rEve firmado y su Signature como hermanos.
	rGesEve := etree.NewElement("rGesEve")
	rGesEve.CreateAttr("xmlns", pkgsifen.NamespaceSIFEN)
	rGesEve.CreateAttr("xmlns:xsi", pkgsifen.NamespaceXSI)
	rGesEve.CreateAttr("xsi:schemaLocation", pkgsifen.SchemaLocationEvento)
	rGesEve.AddChild(rEve)
	rGesEve.AddChild(sigEl)

	gGroupGesEve := etree.NewElement("gGroupGesEve")
	gGroupGesEve.CreateAttr("xmlns", pkgsifen.NamespaceSIFEN)
	gGroupGesEve.CreateAttr("xmlns:xsi", pkgsifen.NamespaceXSI)
	gGroupGesEve.CreateAttr("xsi:schemaLocation", pkgsifen.SchemaLocationEvento)
	gGroupGesEve.AddChild(rGesEve)

	out := etree.NewDocument()
	out.SetRoot(gGroupGesEve)
	serialized, err := out.WriteToString()
	if err != nil {
		return "", fmt.Errorf("%w: serializar evento: %v", domain.ErrSignature, err)
	}
	b.log.Debug().Str("cdc", cdc).Msg("evento de cancelación firmado")
	return serialized, nil
}
