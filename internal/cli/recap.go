package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/justestif/go-listening-tracker/internal/recap"
)

var savedFlag bool

var recapCmd = &cobra.Command{
	Use:   "recap [year]",
	Short: "Generate and save the yearly recap",
	Long:  "Builds the recap for the given year (default current) from the stored aggregates and saves it, replacing any earlier recap for that year. With --saved the stored recap is printed instead.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		year := a.clock.Now().In(a.cfg.Location()).Year()
		if len(args) == 1 {
			year, err = strconv.Atoi(args[0])
			if err != nil || year < 1970 || year > 9999 {
				return fmt.Errorf("%w: year %q", errBadFlag, args[0])
			}
		}

		var r *recap.Recap
		if savedFlag {
			r, err = a.recaps.Saved(ctx, year)
		} else {
			r, err = a.recaps.GenerateAndSave(ctx, year)
		}
		if err != nil {
			return err
		}

		if formatFlag == "text" {
			fmt.Print(recap.FormatSummary(r))
			return nil
		}
		return printJSON(r)
	},
}

func init() {
	recapCmd.Flags().BoolVar(&savedFlag, "saved", false, "Print the saved recap without regenerating")
	RootCmd.AddCommand(recapCmd)
}
