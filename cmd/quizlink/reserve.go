package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/risa-org/quizlink/reserve"
)

func reserveCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve <pin>",
		Short: "Look up a game and print what joining it requires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, _ := cmd.Flags().GetString("base-url")
			rc := &reserve.Client{BaseURL: base, Logger: logger()}

			res, err := rc.Reserve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Pin     string       `json:"pin"`
				Address string       `json:"address"`
				Info    reserve.Info `json:"info"`
			}{res.Pin, res.Address, res.Info})
		},
	}
}
