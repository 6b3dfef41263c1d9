// Package entity define el modelo persistente del ciclo de vida SIFEN:
// el registro de emisión (tb_de_emissao) y el documento externo
// (tb_de_documento), ambos identificados por el id del documento fiscal.
package entity

// FiscalDocumentID identificador opaco del documento fiscal de negocio.
type FiscalDocumentID int64

// Emission es el estado de trabajo de un intento de emisión (tb_de_emissao).
// Cuando hay filas duplicadas para el mismo id_docfis gana la más nueva
// (mayor clave primaria). Este worker nunca crea ni borra filas: solo
// sobreescribe campos, por eso los reintentos son idempotentes.
type Emission struct {
	ID                int64            // clave primaria de la fila
	DocfisID          FiscalDocumentID // id_docfis
	XMLOriginal       string           // XML sin firmar (insumo)
	XMLSigned         string           // XML firmado envuelto en <rLoteDE>
	XMLResponse       string           // última respuesta cruda de SIFEN
	XMLCancelRequest  string           // evento de cancelación enviado
	XMLCancelResponse string           // respuesta de SIFEN al evento
	Protocol          string           // dProtConsLote devuelto en el envío
	StatusCode        string
	StatusDesc        string
	CertPath          string // ubicación del PKCS#12
	CertPass          string // passphrase del PKCS#12
	CSC               string // Código de Seguridad del Contribuyente
	CSCID             string // identificador del CSC
	DocType           string // tipo de documento (iTiDE)
}

// Credentials material de firma/mTLS del documento, tal como viene en la fila.
func (e *Emission) Credentials() Credentials {
	return Credentials{
		CertPath:     e.CertPath,
		CertPassword: e.CertPass,
		CSC:          e.CSC,
		CSCID:        e.CSCID,
	}
}

// Credentials agrupa el PKCS#12 y el secreto CSC de un documento.
type Credentials struct {
	CertPath     string
	CertPassword string
	CSC          string
	CSCID        string
}

// Document es el registro externo de estado (tb_de_documento). Este núcleo
// solo actualiza cod_status (entero) y desc_status.
type Document struct {
	ID         FiscalDocumentID // id_doc
	StatusCode int
	StatusDesc string
}

// EmissionUpdate actualización parcial de una emisión: solo los campos no
// nulos se escriben. Las escrituras son sobreescrituras a nivel de campo,
// por eso repetir una actualización tras un crash es inocuo.
type EmissionUpdate struct {
	XMLSigned         *string
	XMLResponse       *string
	XMLCancelRequest  *string
	XMLCancelResponse *string
	Protocol          *string
	StatusCode        *string
	StatusDesc        *string
}

// Str es un helper para construir actualizaciones parciales.
func Str(s string) *string { return &s }
