package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/cbodonnell/gserver/pkg/config"
	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/spf13/cobra"
)

func newGamesCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List the games of the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			registry, err := games.Load(cfg.GamesFile)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSLOTS\tORIGIN")
			for _, game := range registry.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", game.ID, game.Name, game.Category, game.MaxSlots, game.Origin)
			}
			return w.Flush()
		},
	}
}
