// Package rabbit implementa la mensajería del worker sobre RabbitMQ: la cola
// principal de trabajo y el mecanismo de reintento diferido TTL + dead-letter
// (la cola de espera no tiene consumidores; sus mensajes expiran y el DLX los
// devuelve a la cola principal).
package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/facturapy/sifen-worker/pkg/logger"
)

// Nombres de la topología. Cambiarlos rompe la compatibilidad con los
// publicadores existentes.
const (
	MainQueue  = "faturas_para_processar"
	DelayQueue = "faturas_wait_30s"
	DLX        = "faturas_dlx"
	RoutingKey = "faturas_routing_key"
)

// DeclareTopology declara colas y exchange de forma idempotente. La cola de
// espera lleva TTL configurable; al expirar, el mensaje cae en el DLX que lo
// rutea de vuelta a la cola principal.
func DeclareTopology(ch *amqp.Channel, delayTTLMS int, log *logger.Logger) error {
	if err := ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declarar exchange %s: %w", DLX, err)
	}

	if _, err := ch.QueueDeclare(MainQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declarar cola %s: %w", MainQueue, err)
	}
	if err := ch.QueueBind(MainQueue, RoutingKey, DLX, false, nil); err != nil {
		return fmt.Errorf("bind %s -> %s: %w", DLX, MainQueue, err)
	}

	delayArgs := amqp.Table{
		"x-message-ttl":             int32(delayTTLMS),
		"x-dead-letter-exchange":    DLX,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if _, err := ch.QueueDeclare(DelayQueue, true, false, false, false, delayArgs); err != nil {
		return fmt.Errorf("declarar cola %s: %w", DelayQueue, err)
	}

	log.Info().Int("delay_ttl_ms", delayTTLMS).Msg("topología RabbitMQ declarada")
	return nil
}
