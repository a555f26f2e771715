// Package cmd comandos de operación de dtectl. Comparten configuración y cableado con la API.
package cmd

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/bootstrap"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/logger"
)

var version = "1.0.0"

type options struct {
	verbose bool
}

// NewRootCmd arma el árbol de comandos.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "dtectl",
		Short: "Operación del pipeline de DTE",
		Long: `dtectl ejecuta tareas operativas sobre el mismo almacenamiento que la API.

Ejemplos:
  # Conciliar documentos en contingencia o con resultado desconocido
  dtectl reconcile

  # Sondear los firmadores registrados
  dtectl probe

  # Registrar un emisor desde un archivo JSON
  dtectl emitter add emisor.json

  # Token de administración para la API
  dtectl token ops-1 --role admin`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Logs de depuración en stderr")

	root.AddCommand(
		newReconcileCmd(opts),
		newProbeCmd(opts),
		newSignersCmd(opts),
		newEmitterCmd(opts),
		newTokenCmd(),
	)
	return root
}

// Execute punto de entrada del binario.
func Execute() error {
	return NewRootCmd().Execute()
}

// withServices carga configuración, arma los servicios y los libera al terminar.
func withServices(cmd *cobra.Command, opts *options, fn func(ctx context.Context, cfg *config.Config, svc *bootstrap.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), opts)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, cfg, svc)
}

func newLogger(out io.Writer, opts *options) zerolog.Logger {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	return logger.New(logger.Config{Env: "development", Level: level, Service: "dtectl", Out: out})
}
