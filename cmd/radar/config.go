package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"radar-engine/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit config.yml",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("# %s\n", cfgPath)
		return yaml.NewEncoder(os.Stdout).Encode(config.Redacted(cfg))
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config for each command that needs credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := []struct {
			name string
			p    config.Purpose
		}{
			{"scan", config.PurposeScan},
			{"listen", config.PurposeListen},
			{"serve", config.PurposeServe},
			{"post", config.PurposePost},
		}
		for _, c := range checks {
			if err := config.Require(cfg, c.p); err != nil {
				fmt.Printf("  %-7s %s %v\n", c.name, color.RedString("✗"), err)
				continue
			}
			fmt.Printf("  %-7s %s\n", c.name, color.GreenString("✓"))
		}
		return nil
	},
}

var configAddTargetCmd = &cobra.Command{
	Use:     "add-target <keyword> <subreddit>...",
	Short:   "Add a keyword/subreddit scan target to config.yml",
	Example: `  radar config add-target "shared inbox" smallbusiness startups`,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// edit the file as written; env and keychain values must not be persisted
		raw, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		kw := strings.TrimSpace(args[0])
		var subs []string
		for _, s := range args[1:] {
			if s = strings.TrimPrefix(strings.TrimSpace(s), "r/"); s != "" {
				subs = append(subs, s)
			}
		}
		for i, t := range raw.Scan.Targets {
			if strings.EqualFold(t.Keyword, kw) {
				raw.Scan.Targets[i].Subreddits = mergeUnique(t.Subreddits, subs)
				return save(raw, kw)
			}
		}
		raw.Scan.Targets = append(raw.Scan.Targets, config.Target{Keyword: kw, Subreddits: subs})
		return save(raw, kw)
	},
}

func save(raw config.Config, kw string) error {
	if err := config.SaveAtomic(cfgPath, raw); err != nil {
		return err
	}
	fmt.Printf("Saved target %q to %s\n", kw, cfgPath)
	return nil
}

func mergeUnique(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if k := strings.ToLower(s); !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configAddTargetCmd)
	rootCmd.AddCommand(configCmd)
}
