package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oasysai/oasysdb/pkg/vector"
)

func newInsertCmd() *cobra.Command {
	var vectorFlag string
	var dataFlag string

	cmd := &cobra.Command{
		Use:   "insert <name>",
		Short: "Insert a record into a collection",
		Long: `Insert one vector with optional JSON metadata.

Examples:
  oasysdb insert articles --vector 0.1,0.9,0.3
  oasysdb insert articles --vector 0.1,0.9,0.3 --data '{"title":"intro","year":2024}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(cmd, args[0], vectorFlag, dataFlag)
		},
	}

	cmd.Flags().StringVarP(&vectorFlag, "vector", "v", "", "Comma-separated vector components (required)")
	cmd.Flags().StringVar(&dataFlag, "data", "", "JSON metadata to attach")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

func runInsert(cmd *cobra.Command, name, vectorFlag, dataFlag string) error {
	vec, err := parseVectorFlag(vectorFlag)
	if err != nil {
		return err
	}
	var data vector.Metadata
	if dataFlag != "" {
		data, err = vector.ParseMetadataJSON([]byte(dataFlag))
		if err != nil {
			return err
		}
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	c, err := db.GetCollection(name)
	if err != nil {
		return err
	}
	id, err := c.Insert(vector.Record{Vector: vec, Data: data})
	if err != nil {
		return err
	}
	if err := db.SaveCollection(name, c); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Inserted record %d into %q\n", id, name)
	return nil
}
