// Package oracle implementa la persistencia del ciclo de vida sobre las
// tablas tb_de_emissao y tb_de_documento, vía el driver puro go-ora (modo
// thin, sin Instant Client).
package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/sijms/go-ora/v2"

	"github.com/facturapy/sifen-worker/pkg/config"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

// Open abre y verifica la conexión a Oracle. El worker procesa de a un
// mensaje (prefetch 1), así que el pool se mantiene chico.
func Open(ctx context.Context, cfg config.OracleConfig, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("oracle", cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("abrir conexión oracle: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping oracle: %w", err)
	}
	log.Info().Msg("conexión Oracle establecida")
	return db, nil
}
