package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/sifen-gateway/pkg/config"
	"github.com/jhoicas/sifen-gateway/pkg/jwt"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

var token struct {
	user, ruc, role string
	minutes         int
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Emite un JWT para la API de monitoreo",
	Long: `token firma un JWT con JWT_SECRET para un operador del emisor indicado.
Roles: admin, operador, auditor. El RUC puede omitirse solo para admin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		issuer, err := tokenIssuer()
		if err != nil {
			return err
		}
		minutes := token.minutes
		if minutes <= 0 {
			minutes = cfg.JWT.Expiration
		}
		signed, err := jwt.Generate(cfg.JWT.Secret, token.user, issuer, token.role, cfg.JWT.Issuer, minutes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

// tokenIssuer valida rol y RUC; devuelve el RUC sin DV.
func tokenIssuer() (string, error) {
	switch token.role {
	case jwt.RoleAdmin, jwt.RoleOperator, jwt.RoleAuditor:
	default:
		return "", fmt.Errorf("rol %q desconocido", token.role)
	}
	if token.ruc == "" {
		if token.role != jwt.RoleAdmin {
			return "", errors.New("--ruc es obligatorio salvo para admin")
		}
		return "", nil
	}
	if err := pkgsifen.ValidateRUC(token.ruc); err != nil {
		return "", err
	}
	base, _, err := pkgsifen.SplitRUC(token.ruc)
	return base, err
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&token.user, "user", "", "Identificador del operador")
	f.StringVar(&token.ruc, "ruc", "", "RUC del emisor con DV, p. ej. 80069563-1")
	f.StringVar(&token.role, "role", jwt.RoleOperator, "Rol: admin, operador o auditor")
	f.IntVar(&token.minutes, "minutes", 0, "Vigencia en minutos (por defecto JWT_EXPIRATION_MINUTES)")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
