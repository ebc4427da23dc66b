package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/user/relaycord/internal/types"
)

func init() {
	rootCmd.AddCommand(snowflakeCmd)
}

var snowflakeCmd = &cobra.Command{
	Use:   "snowflake <id>...",
	Short: "Show when identifiers were created",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			id, err := types.ParseSnowflake(arg)
			if err != nil {
				return fmt.Errorf("parse %q: %w", arg, err)
			}
			created := id.Time()
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", id, created.UTC().Format(time.RFC3339Nano), humanize.Time(created))
		}
		return nil
	},
}
