package lifecycle

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/facturapy/sifen-worker/internal/domain/entity"
	pkgsifen "github.com/facturapy/sifen-worker/pkg/sifen"
)

// handlePoll consulta el estado del lote por su protocolo y resuelve el
// terminal: aprobado, rechazado, reprocesar (0160 transitorio o aún en
// proceso) o agotamiento de intentos. El contador de intentos viaja en el
// mensaje; la base no lo conoce.
func (d *Dispatcher) handlePoll(ctx context.Context, log *zerolog.Logger, emission *entity.Emission, attempts int) Outcome {
	id := emission.DocfisID
	cred := emission.Credentials()

	if emission.Protocol == "" {
		log.Error().Msg("emisión sin protocolo; no hay lote que consultar")
		return OutcomeReject
	}

	log.Info().Int("tentativa", attempts).Str("protocolo", emission.Protocol).
		Msg("consultando estado del lote")
	response, err := d.sifen.QueryBatch(ctx, emission.Protocol, cred)
	if err != nil {
		log.Error().Err(err).Msg("error consultando lote")
		return OutcomeReject
	}
	parsed := pkgsifen.ParseResponse(response)

	estado := parsed.Text("dEstRes", "")
	msgLote := parsed.First("", "dMsgResLot", "dMsgRes")
	codigo := parsed.First("", "dCodRes", "dCodResLot")

	// 0160 con el mensaje exacto "XML Mal Formado." es un falso negativo
	// transitorio del lado de SIFEN: se reconsulta en vez de rechazar.
	if codigo == pkgsifen.CodigoXMLMalFormado && msgLote == pkgsifen.MsgXMLMalFormado {
		return d.rescheduleMalformed(ctx, log, id, response, attempts)
	}

	switch {
	case estado == pkgsifen.EstadoAprobado:
		return d.persistApproved(ctx, log, id, response, parsed)

	case estado == pkgsifen.EstadoRechazado ||
		strings.Contains(msgLote, pkgsifen.EstadoCancelado) ||
		strings.Contains(msgLote, pkgsifen.EstadoRechazado):
		return d.persistRejected(ctx, log, id, response, parsed, msgLote)

	default:
		// Aún en procesamiento o estado desconocido.
		if attempts < d.maxAttempts {
			log.Info().Int("proxima_tentativa", attempts+1).
				Msg("lote aún en procesamiento; se reagenda la consulta")
			if err := d.scheduler.SchedulePoll(ctx, id, attempts+1); err != nil {
				log.Error().Err(err).Msg("error reagendando consulta")
				return OutcomeReject
			}
			return OutcomeAck
		}
		log.Error().Int("max_tentativas", d.maxAttempts).
			Msg("se agotaron las consultas de estado")
		return d.persistExhausted(ctx, log, id, response,
			"Excedeu o limite de tentativas de consulta.")
	}
}

// rescheduleMalformed maneja el error transitorio 0160: reconsulta mientras
// queden intentos, marcando el lote como en reproceso.
func (d *Dispatcher) rescheduleMalformed(ctx context.Context, log *zerolog.Logger,
	id entity.FiscalDocumentID, response string, attempts int) Outcome {

	if attempts >= d.maxAttempts {
		log.Error().Int("max_tentativas", d.maxAttempts).
			Msg("error 0160 persistente; se agotaron los intentos")
		return d.persistExhausted(ctx, log, id, response,
			"Excedeu o limite de tentativas de consulta (erro 0160).")
	}

	log.Warn().Int("proxima_tentativa", attempts+1).
		Msg("SIFEN devolvió 0160 (XML Mal Formado); se reagenda la consulta")
	if err := d.scheduler.SchedulePoll(ctx, id, attempts+1); err != nil {
		log.Error().Err(err).Msg("error reagendando consulta 0160")
		return OutcomeReject
	}
	desc := "Reprocessando consulta"
	if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
		XMLResponse: entity.Str(response),
		StatusCode:  entity.Str(pkgsifen.StatusEnviado),
		StatusDesc:  entity.Str(desc),
	}); err != nil {
		log.Error().Err(err).Msg("error persistiendo reproceso")
		return OutcomeReject
	}
	if err := d.store.UpdateDocument(ctx, id, statusInt(pkgsifen.StatusEnviado), entity.Str(desc)); err != nil {
		log.Error().Err(err).Msg("error persistiendo reproceso en documento")
		return OutcomeReject
	}
	return OutcomeAck
}

func (d *Dispatcher) persistApproved(ctx context.Context, log *zerolog.Logger,
	id entity.FiscalDocumentID, response string, parsed *pkgsifen.Response) Outcome {

	code := parsed.Text("dCodRes", pkgsifen.StatusAprobadoDefault)
	docCode := statusInt(code)
	if docCode == nil {
		docCode = statusInt(pkgsifen.StatusAprobadoDefault)
	}
	log.Info().Str("codigo", code).Msg("lote aprobado")

	desc := "Aprobado exitosamente."
	if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
		XMLResponse: entity.Str(response),
		StatusCode:  entity.Str(code),
		StatusDesc:  entity.Str(desc),
	}); err != nil {
		log.Error().Err(err).Msg("error persistiendo aprobación")
		return OutcomeReject
	}
	if err := d.store.UpdateDocument(ctx, id, docCode, entity.Str(desc)); err != nil {
		log.Error().Err(err).Msg("error persistiendo aprobación en documento")
		return OutcomeReject
	}
	return OutcomeAck
}

func (d *Dispatcher) persistRejected(ctx context.Context, log *zerolog.Logger,
	id entity.FiscalDocumentID, response string, parsed *pkgsifen.Response, msgLote string) Outcome {

	code := parsed.First(pkgsifen.StatusRechazadoDefault, "dCodRes", "dCodResLot")
	reason := msgLote
	if reason == "" {
		reason = parsed.Text("dMsgRes", "Motivo não especificado.")
	}
	docCode := statusInt(code)
	if docCode == nil {
		docCode = statusInt(pkgsifen.StatusRechazadoDefault)
	}
	log.Warn().Str("codigo", code).Str("motivo", reason).Msg("lote rechazado")

	desc := "Rejeitado: " + reason
	if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
		XMLResponse: entity.Str(response),
		StatusCode:  entity.Str(code),
		StatusDesc:  entity.Str(desc),
	}); err != nil {
		log.Error().Err(err).Msg("error persistiendo rechazo")
		return OutcomeReject
	}
	if err := d.store.UpdateDocument(ctx, id, docCode, entity.Str(desc)); err != nil {
		log.Error().Err(err).Msg("error persistiendo rechazo en documento")
		return OutcomeReject
	}
	return OutcomeAck
}

func (d *Dispatcher) persistExhausted(ctx context.Context, log *zerolog.Logger,
	id entity.FiscalDocumentID, response, desc string) Outcome {

	if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
		XMLResponse: entity.Str(response),
		StatusCode:  entity.Str(pkgsifen.StatusExcedioTentativas),
		StatusDesc:  entity.Str(desc),
	}); err != nil {
		log.Error().Err(err).Msg("error persistiendo agotamiento de intentos")
		return OutcomeReject
	}
	if err := d.store.UpdateDocument(ctx, id, statusInt(pkgsifen.StatusExcedioTentativas), entity.Str(desc)); err != nil {
		log.Error().Err(err).Msg("error persistiendo agotamiento en documento")
		return OutcomeReject
	}
	return OutcomeAck
}
