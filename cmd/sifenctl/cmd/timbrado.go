package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/sifen-gateway/internal/bootstrap"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/postgres"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

var timbrado struct {
	number, issuer, establishment, pointOfSale string
	validFrom, validUntil                      string
	rangeFrom, rangeTo                         int64
}

var timbradoCmd = &cobra.Command{
	Use:   "timbrado",
	Short: "Administración de timbrados",
}

var timbradoAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Registra un timbrado (requiere STORAGE=postgres)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := timbradoFromFlags()
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(e *bootstrap.Engine) error {
			if e.Pool == nil {
				return errors.New("timbrado add requiere STORAGE=postgres")
			}
			err := postgres.NewTxRunner(e.Pool).Run(cmd.Context(), func(_ *postgres.DocumentRepo, timbrados *postgres.TimbradoRepo) error {
				return timbrados.Create(cmd.Context(), w)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		})
	},
}

func timbradoFromFlags() (*entity.TimbradoWindow, error) {
	if err := pkgsifen.ValidateRUC(timbrado.issuer); err != nil {
		return nil, err
	}
	issuer, _, err := pkgsifen.SplitRUC(timbrado.issuer)
	if err != nil {
		return nil, err
	}
	from, err := time.Parse(time.DateOnly, timbrado.validFrom)
	if err != nil {
		return nil, fmt.Errorf("--valid-from: %w", err)
	}
	until, err := time.Parse(time.DateOnly, timbrado.validUntil)
	if err != nil {
		return nil, fmt.Errorf("--valid-until: %w", err)
	}
	if until.Before(from) {
		return nil, fmt.Errorf("vigencia invertida: %s > %s", timbrado.validFrom, timbrado.validUntil)
	}
	if timbrado.rangeFrom < 1 || timbrado.rangeTo < timbrado.rangeFrom {
		return nil, fmt.Errorf("rango de numeración inválido: %d-%d", timbrado.rangeFrom, timbrado.rangeTo)
	}
	return &entity.TimbradoWindow{
		Number:        timbrado.number,
		IssuerTaxID:   issuer,
		Establishment: timbrado.establishment,
		PointOfSale:   timbrado.pointOfSale,
		ValidFrom:     from,
		ValidUntil:    until,
		RangeFrom:     timbrado.rangeFrom,
		RangeTo:       timbrado.rangeTo,
	}, nil
}

func init() {
	f := timbradoAddCmd.Flags()
	f.StringVar(&timbrado.number, "number", "", "Número de timbrado (8 dígitos)")
	f.StringVar(&timbrado.issuer, "ruc", "", "RUC del emisor con DV, p. ej. 80069563-1")
	f.StringVar(&timbrado.establishment, "establishment", "001", "Establecimiento")
	f.StringVar(&timbrado.pointOfSale, "point-of-sale", "001", "Punto de expedición")
	f.StringVar(&timbrado.validFrom, "valid-from", "", "Inicio de vigencia (AAAA-MM-DD)")
	f.StringVar(&timbrado.validUntil, "valid-until", "", "Fin de vigencia (AAAA-MM-DD)")
	f.Int64Var(&timbrado.rangeFrom, "range-from", 1, "Primer número autorizado")
	f.Int64Var(&timbrado.rangeTo, "range-to", 9999999, "Último número autorizado")
	_ = timbradoAddCmd.MarkFlagRequired("number")
	_ = timbradoAddCmd.MarkFlagRequired("ruc")
	_ = timbradoAddCmd.MarkFlagRequired("valid-from")
	_ = timbradoAddCmd.MarkFlagRequired("valid-until")

	timbradoCmd.AddCommand(timbradoAddCmd)
	rootCmd.AddCommand(timbradoCmd)
}
