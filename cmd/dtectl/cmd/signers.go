package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/application/signing"
	"github.com/jhoicas/dte-api/internal/bootstrap"
	"github.com/jhoicas/dte-api/pkg/config"
)

func newSignersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "signers",
		Short: "Lista los firmadores con su carga y salud",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, opts, func(ctx context.Context, _ *config.Config, svc *bootstrap.Services) error {
				list := svc.SignerAdmin.List(ctx)
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "sin firmadores registrados")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNOMBRE\tACTIVO\tCARGA\tPRIORIDAD\tSALUD\tFIRMADOS\tPROM_MS")
				for _, s := range list {
					fmt.Fprintf(w, "%s\t%s\t%t\t%d/%d\t%d\t%s\t%d\t%.1f\n",
						s.ID, s.Name, s.IsActive, s.CurrentLoad, s.MaxConcurrentSigns, s.Priority, s.HealthStatus, s.TotalSigned, s.AvgResponseMs)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				st := svc.SignerAdmin.Stats(ctx)
				fmt.Fprintf(out, "\ntotal: %d  sanos: %d  degradados: %d  caídos: %d  carga: %d/%d\n",
					st.Total, st.Healthy, st.Degraded, st.Unhealthy, st.TotalLoad, st.TotalCapacity)
				return nil
			})
		},
	}
}

func newProbeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Sondea la salud de todos los firmadores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, opts, func(ctx context.Context, _ *config.Config, svc *bootstrap.Services) error {
				results := svc.Prober.ProbeAll(ctx)
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "sin firmadores registrados")
					return nil
				}
				unhealthy := writeProbeTable(cmd.OutOrStdout(), results)
				if unhealthy == len(results) {
					return fmt.Errorf("ningún firmador respondió")
				}
				return nil
			})
		},
	}
}

func writeProbeTable(out io.Writer, results []signing.ProbeResult) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENDPOINT\tOK\tDURACIÓN\tSALUD\tMENSAJE")
	failed := 0
	for _, r := range results {
		if !r.Healthy {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			r.Signer.ID, r.Signer.EndpointURL, r.Healthy, r.Duration.Round(time.Millisecond), r.Signer.HealthStatus, r.Message)
	}
	_ = w.Flush()
	return failed
}
