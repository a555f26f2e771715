package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/jwt"
)

func newTokenCmd() *cobra.Command {
	var (
		role    string
		minutes int
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Emite un JWT para la API (operadores e integraciones)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != jwt.RoleAdmin && role != jwt.RoleEmisor {
				return fmt.Errorf("rol %q no válido (admin|emisor)", role)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("JWT_SECRET no configurado")
			}
			if minutes <= 0 {
				minutes = cfg.JWT.Expiration
			}
			token, err := jwt.Generate(cfg.JWT.Secret, args[0], role, cfg.JWT.Issuer, minutes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", jwt.RoleEmisor, "Rol del token (admin|emisor)")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Vigencia en minutos (por defecto JWT_EXPIRATION_MINUTES)")
	return cmd
}
