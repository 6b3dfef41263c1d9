// Package http expone la superficie HTTP del worker: solo el health check.
// El trabajo real entra por RabbitMQ.
package http

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/facturapy/sifen-worker/pkg/logger"
)

// New arma la app Fiber con el endpoint de salud. Devuelve 503 si Oracle no
// responde al ping o si la conexión AMQP está cerrada.
func New(appName string, db *sql.DB, conn *amqp.Connection, log *logger.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.StatusOK
		oracleStatus, rabbitStatus := "ok", "ok"

		if err := db.PingContext(c.Context()); err != nil {
			log.Warn().Err(err).Msg("health: ping Oracle falló")
			oracleStatus = "down"
			status = fiber.StatusServiceUnavailable
		}
		if conn.IsClosed() {
			rabbitStatus = "down"
			status = fiber.StatusServiceUnavailable
		}

		return c.Status(status).JSON(fiber.Map{
			"app":      appName,
			"oracle":   oracleStatus,
			"rabbitmq": rabbitStatus,
		})
	})

	return app
}
