package lifecycle

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/facturapy/sifen-worker/internal/domain/entity"
	pkgsifen "github.com/facturapy/sifen-worker/pkg/sifen"
)

// DefaultCancelReason motivo usado cuando el mensaje no trae uno. El
// publicador valida el mínimo de 5 caracteres antes de encolar; este default
// cubre a los publicadores ajenos al worker.
const DefaultCancelReason = "Solicitud de cancelacion"

// handleCancel cancela una nota ya aprobada enviando el evento firmado a
// siRecepEvento. El cancelamiento rechazado por SIFEN se persiste solo en la
// emisión; el registro externo conserva su estado aprobado.
func (d *Dispatcher) handleCancel(ctx context.Context, log *zerolog.Logger, emission *entity.Emission, reason string) Outcome {
	id := emission.DocfisID
	cred := emission.Credentials()

	cdc := pkgsifen.ExtractCDC(emission.XMLSigned)
	if cdc == "" {
		log.Error().Msg("CDC no encontrado en el XML firmado; no se puede cancelar")
		return OutcomeReject
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultCancelReason
	}

	log.Info().Str("cdc", cdc).Str("motivo", reason).Msg("generando evento de cancelación")
	eventXML, err := d.events.BuildCancelEvent(cdc, reason, cred)
	if err != nil {
		log.Error().Err(err).Msg("error generando/firmando evento de cancelación")
		return OutcomeReject
	}

	response, err := d.sifen.SubmitEvent(ctx, eventXML, cred)
	if err != nil {
		log.Error().Err(err).Msg("error enviando evento de cancelación")
		return OutcomeReject
	}
	parsed := pkgsifen.ParseResponse(response)

	codRes := parsed.Text("dCodRes", "")
	msgRes := parsed.Text("dMsgRes", "Sem mensagem")
	estRes := parsed.Text("dEstRes", "")

	if pkgsifen.EsCancelacionOK(codRes) || estRes == pkgsifen.EstadoAprobado {
		log.Info().Str("codigo", codRes).
			Str("protocolo", parsed.Text("dProtAut", "")).
			Msg("cancelamiento homologado")

		if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
			XMLCancelRequest:  entity.Str(eventXML),
			XMLCancelResponse: entity.Str(response),
			StatusCode:        entity.Str(codRes),
			StatusDesc:        entity.Str("Cancelado: " + msgRes),
		}); err != nil {
			log.Error().Err(err).Msg("error persistiendo cancelación")
			return OutcomeReject
		}
		if err := d.store.UpdateDocument(ctx, id,
			statusInt(pkgsifen.StatusCancelado), entity.Str("Nota Cancelada")); err != nil {
			log.Error().Err(err).Msg("error persistiendo cancelación en documento")
			return OutcomeReject
		}
		return OutcomeAck
	}

	log.Warn().Str("codigo", codRes).Str("mensagem", msgRes).
		Msg("cancelamiento no aprobado por SIFEN")
	if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
		XMLCancelRequest:  entity.Str(eventXML),
		XMLCancelResponse: entity.Str(response),
		StatusCode:        entity.Str(codRes),
		StatusDesc:        entity.Str("Erro no cancelamento: " + msgRes),
	}); err != nil {
		log.Error().Err(err).Msg("error persistiendo rechazo de cancelación")
		return OutcomeReject
	}
	return OutcomeAck
}
