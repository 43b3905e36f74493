package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/persist"
	"github.com/sanonone/kektorgraph/pkg/search"
)

func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <word>",
		Short: "Find the nearest neighbors of a word in the stored graph",
		Long: `Load the stored graph described by the index descriptor and print the k
words closest to the given one, closest first. The word itself is never
listed. With --vector the comma-separated vector is used as the probe and
the argument is omitted.`,
		Args: cobra.RangeArgs(0, 1),
		RunE: runQuery,
	}

	cmd.Flags().IntP("number", "k", 10, "Number of neighbors")
	cmd.Flags().Int("ef", 0, "Search beam width (0 = descriptor ef_search)")
	cmd.Flags().String("vector", "", "Query by vector instead of word, e.g. 0.1,0.2,0.3")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	k, _ := cmd.Flags().GetInt("number")
	ef, _ := cmd.Flags().GetInt("ef")
	raw, _ := cmd.Flags().GetString("vector")

	var q search.Query[string]
	switch {
	case raw != "" && len(args) == 0:
		v, err := parseVector(raw)
		if err != nil {
			return err
		}
		q = search.ByVector[string](v)
	case raw == "" && len(args) == 1:
		q = search.ByKey(args[0])
	default:
		return fmt.Errorf("give either a word or --vector")
	}

	s, err := env.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := env.loadHandle(cmd, s)
	if err != nil {
		return err
	}
	finder := search.NewFinder(search.Persisted(h), search.WithEf(ef), search.WithLogger(env.logger))
	neighbors, err := finder.FindNeighbors(cmd.Context(), q, k)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	idProp := h.Config().IDPropertyName
	if env.asJSON {
		out := make([]map[string]any, 0, len(neighbors))
		for _, n := range neighbors {
			out = append(out, map[string]any{
				"word":      n.Subject,
				"entity_id": n.Item.ID,
				"distance":  n.Distance,
			})
		}
		return outputJSON(cmd, out)
	}
	for _, n := range neighbors {
		fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %v\n", n.Distance, n.Item.Properties[idProp])
	}
	return nil
}

func parseVector(raw string) ([]float32, error) {
	parts := strings.Split(raw, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe flattens a descriptor for display.
func describe(desc persist.IndexConfig) [][2]string {
	rows := [][2]string{
		{"dimensionality", strconv.Itoa(desc.Dimensionality)},
		{"distance_function", string(desc.DistanceFunction)},
		{"M", strconv.Itoa(desc.M)},
		{"ef_construction", strconv.Itoa(desc.EfConstruction)},
		{"ef_search", strconv.Itoa(desc.EfSearch)},
		{"entity_type_name", desc.EntityTypeName},
		{"relationship_type_name", desc.RelationshipTypeName},
		{"vector_property_name", desc.VectorPropertyName},
		{"id_property_name", desc.IDPropertyName},
		{"vector_encoding", string(desc.Encoding())},
	}
	if desc.QuantizationMin != nil && desc.QuantizationMax != nil {
		rows = append(rows, [2]string{"quantization_range", fmt.Sprintf("[%g, %g]", *desc.QuantizationMin, *desc.QuantizationMax)})
	}
	return rows
}
