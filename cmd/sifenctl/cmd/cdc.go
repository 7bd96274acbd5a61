package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
)

var cdcCmd = &cobra.Command{
	Use:   "cdc",
	Short: "Inspección de CDCs sin llamar a la SET",
}

var cdcDecodeCmd = &cobra.Command{
	Use:   "decode <cdc>",
	Short: "Separa un CDC en sus campos posicionales",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cdc := args[0]
		out := struct {
			CDC        string                `json:"cdc"`
			Fields     domainsifen.CDCFields `json:"fields"`
			CheckDigit string                `json:"check_digit"`
			Error      string                `json:"error,omitempty"`
		}{CDC: cdc, Fields: domainsifen.Decode(cdc), CheckDigit: "ok"}
		if err := domainsifen.VerifyCheckDigit(cdc); err != nil {
			out.CheckDigit = "inválido"
			out.Error = err.Error()
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var cdcCheckCmd = &cobra.Command{
	Use:   "check <cdc>...",
	Short: "Verifica el dígito verificador; sale con error si alguno es inválido",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bad := 0
		for _, cdc := range args {
			if err := domainsifen.VerifyCheckDigit(cdc); err != nil {
				bad++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tINVÁLIDO\t%v\n", cdc, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tOK\n", cdc)
		}
		if bad > 0 {
			return fmt.Errorf("%d de %d CDC inválidos", bad, len(args))
		}
		return nil
	},
}

func init() {
	cdcCmd.AddCommand(cdcDecodeCmd, cdcCheckCmd)
	rootCmd.AddCommand(cdcCmd)
}
