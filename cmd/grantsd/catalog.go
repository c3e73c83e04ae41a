package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/config"
)

func newCatalogCommand(envFile *string) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print the effective role catalog",
		Long: "Loads the catalog from --file, GRANTS_CATALOG_PATH or the built-in default, " +
			"validates it and prints it as YAML.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := config.LoadConfig(*envFile)
				if err == nil {
					path = cfg.Assignments.CatalogPath
				}
			}
			cat, err := loadCatalog(path)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cat.Definition()); err != nil {
				return fmt.Errorf("encoding catalog: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "catalog YAML file")
	return cmd
}

// loadCatalog reads path, or returns the built-in catalog when path is empty
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog file: %w", err)
	}
	return catalog.Load(path)
}
