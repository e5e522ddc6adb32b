package cmd

import (
	"context"
	"fmt"
	"time"

	"tablevault/bootstrap"
	"tablevault/config"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// seedResult is the seed-admins output.
type seedResult struct {
	File    string `json:"file"`
	Created int    `json:"created"`
}

func newSeedAdminsCmd() *cobra.Command {
	var (
		seedFile     string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "seed-admins",
		Short: "Create administrator accounts from a seed file",
		Long: `Create the administrators listed in a YAML seed file:

  admins:
    - email: root@example.com
      name: Root
      password: change-me-now

Accounts that already exist are skipped. An admin without password or
password_hash gets a generated password that is printed once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sugar, err := bootstrap.InitLogger("warn")
			if err != nil {
				return err
			}

			cfg, err := bootstrap.InitConfig(configFile, sugar)
			if err != nil {
				return err
			}
			if seedFile == "" {
				seedFile = cfg.Seed.File
			}
			if seedFile == "" {
				return fmt.Errorf("no seed file: pass --file or set seed.file")
			}
			if err := validateFilePath(seedFile); err != nil {
				return err
			}

			seeds, err := bootstrap.LoadSeedFile(seedFile)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if cfg.Primary.Driver == config.DriverMemory && !quiet && !outputJSON {
				warningColor.Fprintln(w, "Primary store is in memory; seeded admins vanish when this command exits.")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Connecting to stores..."
				s.Writer = w
				s.Start()
			}

			components, err := bootstrap.InitStorage(ctx, cfg, sugar)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer closeCancel()
				_ = components.Close(closeCtx, sugar)
			}()

			created, err := bootstrap.SeedAdmins(ctx, components.Primary, components.Dispatcher, seeds, cfg.Auth.BcryptCost, sugar)
			if err != nil {
				errorColor.Fprintf(w, "Seeding stopped after %d admins\n", created)
				return err
			}

			if outputJSON {
				return outputAsJSON(w, seedResult{File: seedFile, Created: created})
			}
			if !quiet {
				successColor.Fprintf(w, "Created %d of %d admins\n", created, len(seeds.Admins))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedFile, "file", "", "Seed file path (default: seed.file from config)")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	return cmd
}
