// Package cmd comandos de sifenctl: herramientas de operación del gateway SIFEN.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/sifen-gateway/internal/bootstrap"
	"github.com/jhoicas/sifen-gateway/pkg/config"
	"github.com/jhoicas/sifen-gateway/pkg/logger"
)

var (
	version = "1.0.0"

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "sifenctl",
	Short: "Operación del gateway SIFEN (Paraguay)",
	Long: `sifenctl inspecciona CDCs y opera el motor de envío fuera del servidor HTTP.

La configuración se lee de .env y de las variables de entorno, igual que la API.

Ejemplos:
  # Separar un CDC en sus campos
  sifenctl cdc decode 80069563010010010000001120261015111234567898

  # Consultar a la SET el estado de un CDC
  sifenctl status 80069563010010010000001120261015111234567898

  # Reenviar documentos en contingencia
  sifenctl replay`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute punto de entrada de la CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Nivel de log (por defecto LOG_LEVEL)")
}

// withEngine carga la configuración, arma el motor y lo cierra al terminar fn.
func withEngine(ctx context.Context, fn func(*bootstrap.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.App.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: level, Service: "sifenctl", Output: os.Stderr})

	engine, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("serializar salida: %w", err)
	}
	return nil
}
