package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oasysai/oasysdb/pkg/vector"
)

type createOptions struct {
	dimension      int
	metric         string
	efConstruction int
	efSearch       int
	seed           int64
}

func newCreateCmd() *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty collection",
		Long: `Create an empty collection and persist it.

Examples:
  oasysdb create articles
  oasysdb create images --metric cosine --dimension 512
  oasysdb create repro --seed 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, args[0], opts)
		},
	}

	base := vector.DefaultConfig()
	cmd.Flags().IntVarP(&opts.dimension, "dimension", "d", 0, "Fix the vector dimension up front (0 = set by first insert)")
	cmd.Flags().StringVarP(&opts.metric, "metric", "m", base.Distance.String(), "Distance metric: euclidean, cosine, normalized-cosine")
	cmd.Flags().IntVar(&opts.efConstruction, "ef-construction", base.EfConstruction, "Build-time candidate list size")
	cmd.Flags().IntVar(&opts.efSearch, "ef-search", base.EfSearch, "Query-time candidate list size")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Level-assignment seed (0 = random); not persisted, so inserts into the saved collection draw levels from a fresh seed")

	return cmd
}

func runCreate(cmd *cobra.Command, name string, opts createOptions) error {
	metric, err := vector.ParseMetric(opts.metric)
	if err != nil {
		return err
	}
	vcfg := vector.DefaultConfig()
	vcfg.EfConstruction = opts.efConstruction
	vcfg.EfSearch = opts.efSearch
	vcfg.Distance = metric
	vcfg.Seed = opts.seed

	c, err := vector.New(vcfg)
	if err != nil {
		return err
	}
	if opts.dimension > 0 {
		if err := c.SetDimension(opts.dimension); err != nil {
			return err
		}
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.SaveCollection(name, c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created collection %q (metric: %s)\n", name, metric)
	return nil
}
