package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/catalogboard/internal/capability"
	"github.com/pitabwire/catalogboard/internal/catalog"
	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/definition"
	"github.com/pitabwire/catalogboard/internal/openapi"
)

// newValidateCommand checks everything serve loads at startup without
// opening stores or listening.
func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, board definitions and the catalog contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			index := openapi.NewIndex()
			if err := catalog.LoadContract(index, cfg.Catalog); err != nil {
				return err
			}
			if _, err := catalog.New(cfg.Catalog, index, catalog.Options{}); err != nil {
				return err
			}

			defs, err := definition.LoadAndValidate(cfg.Definitions.Directories)
			if err != nil {
				return err
			}

			if cfg.Capability.StaticPolicyFile != "" {
				if _, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile); err != nil {
					return fmt.Errorf("static policy: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration valid")
			fmt.Fprintf(out, "  boards:             %d\n", len(defs))
			fmt.Fprintf(out, "  catalog operations: %d\n", len(index.AllOperationIDs(cfg.Catalog.ServiceID)))
			fmt.Fprintf(out, "  journal:            %s\n", cfg.Journal.Driver)
			return nil
		},
	}
}
