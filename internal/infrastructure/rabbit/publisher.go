package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

// Publisher publica acciones del ciclo de vida. La API de conveniencia
// (Submit/Poll/Cancel) es la que usan los sistemas de facturación; el worker
// usa SchedulePoll para programar reconsultas diferidas.
type Publisher struct {
	ch  *amqp.Channel
	log *logger.Logger
}

// NewPublisher construye el publicador sobre un canal ya abierto.
func NewPublisher(ch *amqp.Channel, log *logger.Logger) *Publisher {
	return &Publisher{ch: ch, log: log}
}

// Submit encola el envío del documento fiscal a SIFEN.
func (p *Publisher) Submit(ctx context.Context, id entity.FiscalDocumentID) error {
	return p.publish(ctx, MainQueue, entity.ActionMessage{ID: id, Action: entity.ActionSubmit})
}

// Poll encola la consulta inmediata de estado (primer intento).
func (p *Publisher) Poll(ctx context.Context, id entity.FiscalDocumentID) error {
	return p.publish(ctx, MainQueue, entity.ActionMessage{ID: id, Action: entity.ActionPoll, Attempts: 1})
}

// Cancel encola la cancelación del documento. El motivo se valida acá, antes
// de publicar: SIFEN exige al menos 5 caracteres.
func (p *Publisher) Cancel(ctx context.Context, id entity.FiscalDocumentID, reason string) error {
	if len(strings.TrimSpace(reason)) < 5 {
		return domain.ErrInvalidReason
	}
	return p.publish(ctx, MainQueue, entity.ActionMessage{ID: id, Action: entity.ActionCancel, Reason: reason})
}

// SchedulePoll publica la consulta en la cola de espera; el mensaje vuelve a
// la cola principal cuando expira el TTL. El contador de intentos viaja en el
// mensaje, no en la base.
func (p *Publisher) SchedulePoll(ctx context.Context, id entity.FiscalDocumentID, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	return p.publish(ctx, DelayQueue, entity.ActionMessage{ID: id, Action: entity.ActionPoll, Attempts: attempts})
}

func (p *Publisher) publish(ctx context.Context, queue string, msg entity.ActionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serializar mensaje: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publicar en %s: %w", queue, err)
	}
	p.log.Debug().Str("queue", queue).Int64("id_fatura", int64(msg.ID)).
		Str("acao", string(msg.Action)).Int("tentativas", msg.Attempts).
		Msg("mensaje publicado")
	return nil
}
