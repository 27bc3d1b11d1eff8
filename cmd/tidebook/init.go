package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidebook/tidebook/internal/config"
	"github.com/tidebook/tidebook/internal/remote"
	"github.com/tidebook/tidebook/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the workspace, config file, and databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		path, err := config.WriteDefault(workDir)
		if err != nil {
			return err
		}
		cfg, err := config.Load(workDir)
		if err != nil {
			return err
		}

		local, err := store.Open(cfg.LocalDB)
		if err != nil {
			return err
		}
		defer local.Close()
		if err := local.InitSchema(ctx); err != nil {
			return err
		}

		rem, err := remote.OpenSQLite(cfg.RemoteDB)
		if err != nil {
			return err
		}
		defer rem.Close()
		if err := rem.InitSchema(ctx); err != nil {
			return err
		}

		fmt.Printf("Initialized workspace in %s\n", workDir)
		fmt.Printf("  config: %s\n", path)
		fmt.Printf("  local:  %s\n", cfg.LocalDB)
		fmt.Printf("  remote: %s\n", cfg.RemoteDB)
		return nil
	},
}
