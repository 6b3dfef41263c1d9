// Package lifecycle orquesta el ciclo de vida del documento electrónico:
// envío del lote firmado, consulta diferida del estado y cancelación por
// evento. La política de mensajería es fija: rechazo de negocio se persiste
// y se confirma (ack); solo la falla operativa produce nack sin requeue.
package lifecycle

import (
	"context"

	"github.com/facturapy/sifen-worker/internal/domain/entity"
)

// Store es la persistencia de emisiones y documentos.
type Store interface {
	GetEmission(ctx context.Context, id entity.FiscalDocumentID) (*entity.Emission, error)
	GetDocument(ctx context.Context, id entity.FiscalDocumentID) (*entity.Document, error)
	UpdateEmission(ctx context.Context, id entity.FiscalDocumentID, upd entity.EmissionUpdate) error
	UpdateDocument(ctx context.Context, id entity.FiscalDocumentID, code *int, desc *string) error
}

// SifenClient son los tres web services del ciclo de vida. SubmitBatch
// recibe el XML del lote (rLoteDE) y se encarga del zip+base64.
type SifenClient interface {
	SubmitBatch(ctx context.Context, batchXML string, cred entity.Credentials) (string, error)
	QueryBatch(ctx context.Context, protocol string, cred entity.Credentials) (string, error)
	SubmitEvent(ctx context.Context, eventXML string, cred entity.Credentials) (string, error)
}

// DocumentSigner firma el XML original y le incrusta el QR.
type DocumentSigner interface {
	SignAndEmbedQR(xmlOriginal string, cred entity.Credentials) (string, error)
}

// EventBuilder arma el evento de cancelación firmado.
type EventBuilder interface {
	BuildCancelEvent(cdc, reason string, cred entity.Credentials) (string, error)
}

// Scheduler programa una consulta de estado diferida (cola de espera).
type Scheduler interface {
	SchedulePoll(ctx context.Context, id entity.FiscalDocumentID, attempts int) error
}
