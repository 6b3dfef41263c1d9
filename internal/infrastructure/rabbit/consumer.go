package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/facturapy/sifen-worker/internal/application/lifecycle"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

// Consumer consume la cola principal de a un mensaje (prefetch 1) y traduce
// el resultado del despachador a ack/nack. El nack va sin requeue: el
// reintento controlado pasa siempre por la cola de espera, nunca por el
// redelivery inmediato del broker.
type Consumer struct {
	ch         *amqp.Channel
	dispatcher *lifecycle.Dispatcher
	log        *logger.Logger
}

// NewConsumer construye el consumidor.
func NewConsumer(ch *amqp.Channel, dispatcher *lifecycle.Dispatcher, log *logger.Logger) *Consumer {
	return &Consumer{ch: ch, dispatcher: dispatcher, log: log}
}

// Run consume hasta que el contexto se cancele o el canal se cierre. Devuelve
// nil en el apagado ordenado.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(MainQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info().Str("queue", MainQueue).Msg("worker escuchando")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("apagado solicitado; se deja de consumir")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.log.Warn().Msg("canal de entregas cerrado por el broker")
				return amqp.ErrClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	outcome := c.dispatcher.Handle(ctx, d.Body)
	switch outcome {
	case lifecycle.OutcomeReject:
		// Falla operativa (base caída, SIFEN inalcanzable). Sin requeue: el
		// mensaje no vuelve en loop caliente.
		if err := d.Nack(false, false); err != nil {
			c.log.Error().Err(err).Msg("nack falló")
		}
	default:
		if err := d.Ack(false); err != nil {
			c.log.Error().Err(err).Msg("ack falló")
		}
	}
}
