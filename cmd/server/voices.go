package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/voice"
)

func newVoicesCommand(ctx *commandContext) *cobra.Command {
	var filter provider.VoiceFilter

	cmd := &cobra.Command{
		Use:   "voices [provider]",
		Short: "List TTS providers, or the voices of one provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry := provider.NewRegistryFromConfig(cfg)
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				fmt.Fprintln(out, providersTable(registry.Infos()))
				return nil
			}

			result, err := voice.NewResolver(registry).Resolve(cmd.Context(), args[0], filter)
			var absent *apperr.NoVoicesAvailable
			if errors.As(err, &absent) {
				return fmt.Errorf("%w (alternatives: %v)", err, absent.Alternatives)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s voices (%s, %d)\n", result.Provider, result.Source, result.Total)
			fmt.Fprintln(out, voicesTable(result.Voices))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Language, "language", "", "Filter by language code")
	cmd.Flags().StringVar(&filter.Gender, "gender", "", "Filter by gender")
	cmd.Flags().StringVar(&filter.Category, "category", "", "Filter by category")
	return cmd
}

func providersTable(infos []provider.Info) string {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		available := "no"
		if info.Available {
			available = "yes"
		}
		rows = append(rows, []string{
			info.ID,
			info.Name,
			available,
			fmt.Sprintf("$%.4f", info.CostPer1K),
			strconv.Itoa(info.FallbackSize),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Available", "Cost / 1k chars", "Fallback voices"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func voicesTable(voices []provider.Voice) string {
	rows := make([][]string, 0, len(voices))
	for _, v := range voices {
		rows = append(rows, []string{v.ID, v.Name, v.Language, v.Gender, v.Category})
	}
	return renderTable([]string{"ID", "Name", "Language", "Gender", "Category"}, rows, nil)
}
