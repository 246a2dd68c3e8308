package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	metasync "github.com/justestif/go-listening-tracker/internal/sync"
)

var forceFlag bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh cached metadata for every tracked track",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		result, err := a.sync.SyncMetadata(ctx, forceFlag)
		if errors.Is(err, metasync.ErrSourceNotReady) {
			return fmt.Errorf("%w: set soundcloud.client_id, register one with PUT /soundcloud/client-id, or configure spotify credentials", err)
		}
		if err != nil {
			return err
		}

		if formatFlag == "text" {
			fmt.Printf("Sync %s: checked %d, requested %d, resolved %d, failed %d\n",
				result.RunID, result.Checked, result.Requested, result.Resolved, result.Failed)
			return nil
		}
		return printJSON(result)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&forceFlag, "force", false, "Ignore the sync cooldown")
	RootCmd.AddCommand(syncCmd)
}
