package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/bootstrap"
	"github.com/jhoicas/dte-api/pkg/config"
)

func newReconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Ejecuta una pasada de conciliación",
		Long: `Consulta al MH los documentos en contingencia o con resultado desconocido y
los resuelve: registra el sello si ya fueron recibidos, o los reenvía si no.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, opts, func(ctx context.Context, _ *config.Config, svc *bootstrap.Services) error {
				report, err := svc.Reconciler.RunOnce(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "escaneados: %d\n", report.Scanned)
				actions := make([]string, 0, len(report.Resolved))
				for a := range report.Resolved {
					actions = append(actions, a)
				}
				sort.Strings(actions)
				for _, a := range actions {
					fmt.Fprintf(out, "  %s: %d\n", a, report.Resolved[a])
				}
				fmt.Fprintf(out, "fallidos: %d\n", report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d documentos no se pudieron conciliar", report.Failed)
				}
				return nil
			})
		},
	}
}
