package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/bootstrap"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/config"
)

// emitterFile formato del archivo de alta de emisores. Las contraseñas llegan en claro
// y se guardan cifradas con SECRETS_KEY.
type emitterFile struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	TradeName                 string `json:"trade_name"`
	NIT                       string `json:"nit"`
	NRC                       string `json:"nrc"`
	EconomicActivityCode      string `json:"economic_activity_code"`
	EconomicActivityDesc      string `json:"economic_activity_desc"`
	EstablishmentType         string `json:"establishment_type"`
	Department                string `json:"department"`
	Municipality              string `json:"municipality"`
	AddressComplement         string `json:"address_complement"`
	Phone                     string `json:"phone"`
	Email                     string `json:"email"`
	HaciendaUser              string `json:"hacienda_user"`
	HaciendaPassword          string `json:"hacienda_password"`
	PrivateKeyPassword        string `json:"private_key_password"`
	ControlNumberIncludesYear bool   `json:"control_number_includes_year"`
}

func newEmitterCmd(opts *options) *cobra.Command {
	emitter := &cobra.Command{
		Use:   "emitter",
		Short: "Administración de emisores",
	}
	emitter.AddCommand(&cobra.Command{
		Use:   "add <archivo.json>",
		Short: "Registra un emisor con sus credenciales del MH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readEmitterFile(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, opts, func(ctx context.Context, _ *config.Config, svc *bootstrap.Services) error {
				e, err := in.toEntity(svc)
				if err != nil {
					return err
				}
				if err := svc.Stores.Emitters.Create(ctx, e); err != nil {
					return fmt.Errorf("crear emisor: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "emisor %s registrado (NIT %s)\n", e.ID, e.NIT)
				return nil
			})
		},
	})
	return emitter
}

func readEmitterFile(path string) (*emitterFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer %s: %w", path, err)
	}
	var in emitterFile
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("JSON inválido en %s: %w", path, err)
	}
	switch {
	case in.ID == "":
		return nil, fmt.Errorf("id es obligatorio")
	case len(in.NIT) != 14 && len(in.NIT) != 9:
		return nil, fmt.Errorf("nit debe tener 9 o 14 dígitos")
	case in.HaciendaPassword == "" || in.PrivateKeyPassword == "":
		return nil, fmt.Errorf("hacienda_password y private_key_password son obligatorios")
	}
	return &in, nil
}

func (in *emitterFile) toEntity(svc *bootstrap.Services) (*entity.Emitter, error) {
	mhPass, err := svc.Secrets.Seal(in.HaciendaPassword)
	if err != nil {
		return nil, err
	}
	keyPass, err := svc.Secrets.Seal(in.PrivateKeyPassword)
	if err != nil {
		return nil, err
	}
	user := in.HaciendaUser
	if user == "" {
		user = in.NIT
	}
	now := time.Now().UTC()
	return &entity.Emitter{
		ID:                        in.ID,
		Name:                      in.Name,
		TradeName:                 in.TradeName,
		NIT:                       in.NIT,
		NRC:                       in.NRC,
		EconomicActivityCode:      in.EconomicActivityCode,
		EconomicActivityDesc:      in.EconomicActivityDesc,
		EstablishmentType:         in.EstablishmentType,
		Department:                in.Department,
		Municipality:              in.Municipality,
		AddressComplement:         in.AddressComplement,
		Phone:                     in.Phone,
		Email:                     in.Email,
		HaciendaUser:              user,
		HaciendaPasswordEnc:       mhPass,
		PrivateKeyPasswordEnc:     keyPass,
		ControlNumberIncludesYear: in.ControlNumberIncludesYear,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}, nil
}
