// Package sifen contiene el vocabulario SIFEN v1.50 (Paraguay): namespaces,
// algoritmos XMLDSig, códigos de estado del ciclo de vida y la construcción
// del QR sellado con el CSC.
package sifen

// Namespaces XML de los documentos electrónicos SIFEN.
const (
	NamespaceSIFEN = "http://ekuatia.set.gov.py/sifen/xsd"
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXSI   = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceSOAP  = "http://www.w3.org/2003/05/soap-envelope"
)

// Algoritmos XMLDSig exigidos por el manual técnico v1.50.
const (
	AlgExcC14N         = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgC14N10          = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Version es la versión del formato SIFEN (campo nVersion del QR y dVerFor).
const Version = "150"

// SchemaLocationEvento valor de xsi:schemaLocation en los eventos (siRecepEvento).
const SchemaLocationEvento = NamespaceSIFEN + " siRecepEvento_v150.xsd"

// Códigos de estado persistidos en cod_status durante el ciclo de vida.
const (
	StatusEnviado           = "900"  // lote recibido, aguardando consulta (también reproceso transitorio)
	StatusAprobadoDefault   = "0201" // aprobado, cuando SIFEN no informa dCodRes
	StatusRechazadoDefault  = "0300" // rechazado, cuando SIFEN no informa código
	StatusExcedioTentativas = "998"  // se agotaron las consultas de estado
	StatusCancelado         = "600"  // nota cancelada con éxito
	StatusErrorEnvio        = "999"  // fallo de protocolo en el envío del lote
)

// CodigoXMLMalFormado es el código transitorio de SIFEN cuando el parser del
// lado del servidor falla; con el mensaje exacto MsgXMLMalFormado se trata
// como "aún pendiente" y se reconsulta.
const (
	CodigoXMLMalFormado = "0160"
	MsgXMLMalFormado    = "XML Mal Formado."
)

// CodigosCancelacionOK códigos dCodRes que confirman un cancelamiento aceptado.
var CodigosCancelacionOK = []string{"0500", "0501", "0600"}

// EsCancelacionOK informa si el código de respuesta confirma el cancelamiento.
func EsCancelacionOK(codigo string) bool {
	for _, c := range CodigosCancelacionOK {
		if c == codigo {
			return true
		}
	}
	return false
}

// Estados textuales (dEstRes) devueltos por la consulta de lote.
const (
	EstadoAprobado  = "Aprobado"
	EstadoRechazado = "Rechazado"
	EstadoCancelado = "Cancelado"
)
