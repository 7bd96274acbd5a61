package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/sifen-gateway/internal/bootstrap"
)

var expireOnly bool

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Concilia y reenvía los documentos en SUBMITTING y PENDING_CONTINGENCY",
	Long: `replay consulta cada CDC pendiente antes de reenviarlo: si la SET ya tiene una
respuesta definitiva se aplica; solo los documentos que la SET no conoce se reenvían.
Los documentos fuera de la ventana de atraso pasan a EXPIRED sin llamar a la SET.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(e *bootstrap.Engine) error {
			if expireOnly {
				ids, err := e.Orchestrator.ExpireOverdue(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string][]string{"expired": ids})
			}

			report, err := e.Orchestrator.Resume(cmd.Context())
			if err != nil {
				return err
			}
			failed := make(map[string]string, len(report.Failed))
			for id, ferr := range report.Failed {
				failed[id] = ferr.Error()
			}
			if err := printJSON(cmd.OutOrStdout(), map[string]any{
				"reconciled":  report.Reconciled,
				"resubmitted": report.Resubmitted,
				"expired":     report.Expired,
				"failed":      failed,
			}); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d documentos siguen pendientes", len(failed))
			}
			return nil
		})
	},
}

func init() {
	replayCmd.Flags().BoolVar(&expireOnly, "expire-only", false, "Solo vence los documentos atrasados, sin llamar a la SET")
	rootCmd.AddCommand(replayCmd)
}
