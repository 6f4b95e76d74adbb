package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oasysai/oasysdb/pkg/vector"
)

type searchOptions struct {
	vector    string
	k         int
	exact     bool
	relevancy float64
	asJSON    bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Search a collection for nearest neighbors",
		Long: `Run a k-nearest-neighbor query against a collection.

Examples:
  oasysdb search articles --vector 0.1,0.9,0.3 -k 5
  oasysdb search articles --vector 0.1,0.9,0.3 --exact --json
  oasysdb search articles --vector 0.1,0.9,0.3 --relevancy 0.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.vector, "vector", "v", "", "Comma-separated query vector (required)")
	cmd.Flags().IntVarP(&opts.k, "k", "k", 10, "Number of neighbors to return")
	cmd.Flags().BoolVar(&opts.exact, "exact", false, "Use the brute-force reference search")
	cmd.Flags().Float64Var(&opts.relevancy, "relevancy", -1, "Distance cutoff; negative disables it")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Emit results as JSON")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

func runSearch(cmd *cobra.Command, name string, opts searchOptions) error {
	query, err := parseVectorFlag(opts.vector)
	if err != nil {
		return err
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
	c.SetRelevancy(float32(opts.relevancy))

	var results []vector.SearchResult
	if opts.exact {
		results, err = c.TrueSearch(query, opts.k)
	} else {
		results, err = c.Search(query, opts.k)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		return writeResultsJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	if stdoutIsTTY() {
		fmt.Fprintf(out, "%-10s %-12s %s\n", "ID", "DISTANCE", "DATA")
	}
	for _, r := range results {
		fmt.Fprintf(out, "%-10d %-12.6f %s\n", r.ID, r.Distance, formatMetadata(r.Data))
	}
	return nil
}

type jsonResult struct {
	ID       vector.VectorID `json:"id"`
	Distance float32         `json:"distance"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func writeResultsJSON(out io.Writer, results []vector.SearchResult) error {
	rows := make([]jsonResult, 0, len(results))
	for _, r := range results {
		row := jsonResult{ID: r.ID, Distance: r.Distance}
		if r.Data != nil {
			data, err := vector.MarshalMetadataJSON(r.Data)
			if err != nil {
				return err
			}
			row.Data = data
		}
		rows = append(rows, row)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func formatMetadata(m vector.Metadata) string {
	if m == nil {
		return "-"
	}
	data, err := vector.MarshalMetadataJSON(m)
	if err != nil {
		return "-"
	}
	return string(data)
}
