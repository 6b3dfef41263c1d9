// Worker del ciclo de vida SIFEN: consume acciones (enviar, consultar,
// cancelar) de RabbitMQ, conversa con los web services de SIFEN y persiste
// el resultado en Oracle. Las reconsultas se difieren vía TTL + dead-letter.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/facturapy/sifen-worker/internal/application/lifecycle"
	"github.com/facturapy/sifen-worker/internal/infrastructure/oracle"
	"github.com/facturapy/sifen-worker/internal/infrastructure/rabbit"
	"github.com/facturapy/sifen-worker/internal/infrastructure/sifen"
	httpiface "github.com/facturapy/sifen-worker/internal/interfaces/http"
	"github.com/facturapy/sifen-worker/pkg/config"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error cargando configuración: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
	log.Info().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Msg("iniciando worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := oracle.Open(ctx, cfg.Oracle, log)
	if err != nil {
		log.Fatal().Err(err).Msg("no se pudo conectar a Oracle")
	}
	defer db.Close()

	conn, err := amqp.Dial(cfg.Rabbit.URL())
	if err != nil {
		log.Fatal().Err(err).Msg("no se pudo conectar a RabbitMQ")
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("no se pudo abrir el canal AMQP")
	}
	defer ch.Close()

	if err := rabbit.DeclareTopology(ch, cfg.Rabbit.DelayTTLMS, log); err != nil {
		log.Fatal().Err(err).Msg("no se pudo declarar la topología")
	}

	store := oracle.NewStore(db, log)
	client := sifen.NewClient(cfg.SIFEN, log)
	signer := sifen.NewSigner(cfg.SIFEN.URLQR, log)
	events := sifen.NewEventBuilder(log)
	publisher := rabbit.NewPublisher(ch, log)
	dispatcher := lifecycle.NewDispatcher(store, client, signer, events,
		publisher, cfg.Rabbit.MaxAttempts, log)
	consumer := rabbit.NewConsumer(ch, dispatcher, log)

	app := httpiface.New(cfg.App.Name, db, conn, log)
	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP terminó con error")
		}
	}()

	if err := consumer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("consumidor terminó con error")
	}

	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("error apagando el servidor HTTP")
	}
	log.Info().Msg("worker detenido")
}
