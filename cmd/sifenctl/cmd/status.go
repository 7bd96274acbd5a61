package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jhoicas/sifen-gateway/internal/bootstrap"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
)

var statusCmd = &cobra.Command{
	Use:   "status <cdc>",
	Short: "Consulta a la SET el estado de un CDC y lo aplica al documento local",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(e *bootstrap.Engine) error {
			res, err := e.Orchestrator.QueryStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outcomeView{
				CDC:        res.Identifier,
				DocumentID: res.DocumentID,
				Status:     string(res.Status),
				Outcome:    outcomeFields(res.Outcome),
			})
		})
	},
}

type outcomeView struct {
	CDC        string            `json:"cdc"`
	DocumentID string            `json:"document_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Outcome    map[string]string `json:"outcome,omitempty"`
}

func outcomeFields(o entity.Outcome) map[string]string {
	if o == nil {
		return nil
	}
	return map[string]string{
		"kind":    string(o.Kind()),
		"code":    o.RawCode(),
		"message": o.Text(),
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
