package lifecycle

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/facturapy/sifen-worker/internal/domain/entity"
	pkgsifen "github.com/facturapy/sifen-worker/pkg/sifen"
)

// handleSubmit firma el XML original, lo envuelve en rLoteDE y lo envía a
// SIFEN. Con protocolo válido el lote queda "900" aguardando la consulta
// diferida; sin protocolo el rechazo se persiste y el mensaje se confirma.
func (d *Dispatcher) handleSubmit(ctx context.Context, log *zerolog.Logger, emission *entity.Emission) Outcome {
	id := emission.DocfisID
	cred := emission.Credentials()

	signed, err := d.signer.SignAndEmbedQR(emission.XMLOriginal, cred)
	if err != nil {
		log.Error().Err(err).Msg("error firmando documento")
		return OutcomeReject
	}
	batchXML := "<rLoteDE>" + pkgsifen.StripDeclaration(signed) + "</rLoteDE>"

	log.Info().Msg("enviando lote a SIFEN")
	response, err := d.sifen.SubmitBatch(ctx, batchXML, cred)
	if err != nil {
		log.Error().Err(err).Msg("error enviando lote")
		return OutcomeReject
	}
	parsed := pkgsifen.ParseResponse(response)

	protocol := parsed.Text("dProtConsLote", "")
	if protocol == "" || protocol == "0" {
		msg := parsed.Text("dMsgRes", "Erro não especificado")
		code := parsed.Text("dCodRes", pkgsifen.StatusErrorEnvio)
		log.Error().Str("codigo", code).Str("motivo", msg).
			Msg("falla en el envío del lote: protocolo inválido")

		desc := "Falha no envio: " + msg
		if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
			XMLSigned:   entity.Str(batchXML),
			XMLResponse: entity.Str(response),
			StatusCode:  entity.Str(code),
			StatusDesc:  entity.Str(desc),
		}); err != nil {
			log.Error().Err(err).Msg("error persistiendo rechazo de envío")
			return OutcomeReject
		}
		if err := d.store.UpdateDocument(ctx, id, statusInt(code), entity.Str(desc)); err != nil {
			log.Error().Err(err).Msg("error persistiendo rechazo en documento")
			return OutcomeReject
		}
		return OutcomeAck
	}

	log.Info().Str("protocolo", protocol).Msg("lote recibido por SIFEN; se agenda consulta")
	desc := "Lote recebido. Aguardando consulta de status."
	if err := d.store.UpdateEmission(ctx, id, entity.EmissionUpdate{
		XMLSigned:   entity.Str(batchXML),
		XMLResponse: entity.Str(response),
		Protocol:    entity.Str(protocol),
		StatusCode:  entity.Str(pkgsifen.StatusEnviado),
		StatusDesc:  entity.Str(desc),
	}); err != nil {
		log.Error().Err(err).Msg("error persistiendo envío")
		return OutcomeReject
	}
	if err := d.store.UpdateDocument(ctx, id, statusInt(pkgsifen.StatusEnviado), entity.Str(desc)); err != nil {
		log.Error().Err(err).Msg("error persistiendo envío en documento")
		return OutcomeReject
	}
	if err := d.scheduler.SchedulePoll(ctx, id, 1); err != nil {
		log.Error().Err(err).Msg("error agendando consulta")
		return OutcomeReject
	}
	return OutcomeAck
}
