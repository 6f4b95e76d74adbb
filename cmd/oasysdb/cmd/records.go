package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> <id>",
		Short: "Fetch one record by ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[1])
			if err != nil {
				return err
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			c, err := db.GetCollection(args[0])
			if err != nil {
				return err
			}
			rec, err := c.Get(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:     %d\n", id)
			fmt.Fprintf(out, "vector: %v\n", rec.Vector)
			fmt.Fprintf(out, "data:   %s\n", formatMetadata(rec.Data))
			return nil
		},
	}
}

func newDeleteRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-record <name> <id>",
		Short: "Delete one record by ID",
		Long: `Delete a record and unlink it from the index. The ID is
tombstoned and never reused.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[1])
			if err != nil {
				return err
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			c, err := db.GetCollection(args[0])
			if err != nil {
				return err
			}
			if err := c.Delete(id); err != nil {
				return err
			}
			if err := db.SaveCollection(args[0], c); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted record %d from %q\n", id, args[0])
			return nil
		},
	}
}
