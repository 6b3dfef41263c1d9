package lifecycle

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

// Outcome es la decisión de mensajería para un mensaje procesado.
type Outcome int

const (
	// OutcomeAck confirma el mensaje: se procesó o se descartó a propósito.
	OutcomeAck Outcome = iota
	// OutcomeReject rechaza sin requeue: falla operativa (base, firma,
	// transporte). El reintento controlado pasa por la cola de espera.
	OutcomeReject
)

// Dispatcher rutea cada mensaje de la cola principal al handler de su acción.
type Dispatcher struct {
	store       Store
	sifen       SifenClient
	signer      DocumentSigner
	events      EventBuilder
	scheduler   Scheduler
	maxAttempts int
	log         *logger.Logger
}

// NewDispatcher construye el despachador. maxAttempts limita las consultas de
// estado por lote.
func NewDispatcher(store Store, sifen SifenClient, signer DocumentSigner,
	events EventBuilder, scheduler Scheduler, maxAttempts int, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		sifen:       sifen,
		signer:      signer,
		events:      events,
		scheduler:   scheduler,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Handle procesa el cuerpo de un mensaje y decide su suerte. Mensaje sin id,
// sin filas en la base o con acción desconocida se descarta con ack: volver a
// entregarlo no lo arreglaría.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) Outcome {
	log := d.log.With().Str("correlation_id", uuid.NewString()).Logger()

	msg, err := entity.ParseActionMessage(body)
	if err != nil {
		log.Error().Err(err).Msg("mensaje no es JSON válido")
		return OutcomeReject
	}
	if msg.ID == 0 {
		log.Warn().Msg("mensaje sin id_fatura; se ignora")
		return OutcomeAck
	}
	log = log.With().Int64("id_fatura", int64(msg.ID)).Str("acao", string(msg.Action)).Logger()

	emission, err := d.store.GetEmission(ctx, msg.ID)
	if err != nil {
		log.Error().Err(err).Msg("error leyendo emisión")
		return OutcomeReject
	}
	document, err := d.store.GetDocument(ctx, msg.ID)
	if err != nil {
		log.Error().Err(err).Msg("error leyendo documento")
		return OutcomeReject
	}
	if emission == nil || document == nil {
		log.Error().Msg("datos no encontrados en la base; se descarta el mensaje")
		return OutcomeAck
	}

	log.Info().Msg("procesando acción")
	switch msg.Action {
	case entity.ActionSubmit:
		return d.handleSubmit(ctx, &log, emission)
	case entity.ActionPoll:
		return d.handlePoll(ctx, &log, emission, msg.Attempts)
	case entity.ActionCancel:
		return d.handleCancel(ctx, &log, emission, msg.Reason)
	default:
		log.Warn().Msg("acción desconocida; se descarta el mensaje")
		return OutcomeAck
	}
}

// statusInt convierte un código de estado textual a entero para el registro
// externo; devuelve nil cuando no es numérico ("0201" vale 201).
func statusInt(code string) *int {
	n, err := strconv.Atoi(code)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
