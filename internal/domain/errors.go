package domain

import "errors"

// Errores de dominio (sin dependencias externas). Clasifican el comportamiento,
// no la estructura: un rechazo de negocio de SIFEN nunca es un error — se
// persiste como transición de estado y la mensajería hace ack.
var (
	// ErrConfig configuración inválida o incompleta; fatal al arranque.
	ErrConfig = errors.New("configuración inválida")
	// ErrCredential no se pudo cargar o descifrar el PKCS#12.
	ErrCredential = errors.New("credencial inválida")
	// ErrMalformedDocument falta un elemento obligatorio en el XML.
	ErrMalformedDocument = errors.New("documento XML malformado")
	// ErrSignature falló la firma digital.
	ErrSignature = errors.New("fallo de firma digital")
	// ErrTransport fallo HTTP sin cuerpo XML interpretable.
	ErrTransport = errors.New("fallo de transporte SIFEN")
	// ErrStore fallo de acceso a la base de datos.
	ErrStore = errors.New("fallo de base de datos")
	// ErrNotFound registro inexistente.
	ErrNotFound = errors.New("registro no encontrado")
	// ErrInvalidReason motivo de cancelación ausente o menor a 5 caracteres.
	ErrInvalidReason = errors.New("el motivo de cancelación es obligatorio y debe tener al menos 5 caracteres")
)
