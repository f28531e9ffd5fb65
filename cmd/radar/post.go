package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"radar-engine/internal/approval"
	"radar-engine/internal/config"
)

var postCmd = &cobra.Command{
	Use:   "post <fingerprint>",
	Short: "Post an approved reply now",
	Long: `Post the draft of an APPROVED or EDITED candidate. Use this to re-drive a
post that was interrupted after approval. Anything else is reported as
already handled.

Example:
  radar post reddit:1abc23`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Require(cfg, config.PurposePost); err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		e, err := newEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.machine().Post(ctx, args[0], "cli")
		msg := approval.Describe(c, err)
		if err != nil {
			fmt.Println(color.RedString(msg))
			return err
		}
		fmt.Println(color.GreenString(msg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(postCmd)
}
