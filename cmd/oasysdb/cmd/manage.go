package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collections in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			names, err := db.ListCollections()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No collections.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a collection's configuration and size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			c, err := db.GetCollection(args[0])
			if err != nil {
				return err
			}

			vcfg := c.Config()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:            %s\n", args[0])
			fmt.Fprintf(out, "records:         %d\n", c.Len())
			fmt.Fprintf(out, "dimension:       %d\n", c.Dimension())
			fmt.Fprintf(out, "metric:          %s\n", vcfg.Distance)
			fmt.Fprintf(out, "ef_construction: %d\n", vcfg.EfConstruction)
			fmt.Fprintf(out, "ef_search:       %d\n", vcfg.EfSearch)
			fmt.Fprintf(out, "relevancy:       %g\n", c.Relevancy())
			return nil
		},
	}
}

func newDropCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "drop <name>",
		Short: "Delete an entire collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to drop %q without --force", args[0])
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := db.DeleteCollection(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped collection %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm the drop")
	return cmd
}
