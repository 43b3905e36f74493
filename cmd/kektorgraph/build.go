package main

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"github.com/sanonone/kektorgraph/pkg/persist"
	"github.com/sanonone/kektorgraph/pkg/wordvec"
)

func NewBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <vectors.vec[.gz]>",
		Short: "Index a word-vector file and persist the graph",
		Long: `Read a word-vector file, build an HNSW graph over it in memory, export the
graph into the configured store and write the index descriptor next to it.
Re-running build over the same store rewrites only what changed.`,
		Args: cobra.ExactArgs(1),
		RunE: runBuild,
	}

	cmd.Flags().IntP("limit", "n", 0, "Index only the first n words (overrides build.limit)")
	cmd.Flags().IntP("workers", "w", 0, "Concurrent inserts (overrides build.workers)")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file when done")
	return cmd
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cfg := env.cfg
	if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
		cfg.Build.Limit = n
	}
	if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
		cfg.Build.Workers = w
	}

	start := time.Now()
	records, dim, err := wordvec.ReadFile(args[0], wordvec.Options{Normalize: cfg.Build.Normalize, Limit: cfg.Build.Limit})
	var skipped *types.BatchError
	if errors.As(err, &skipped) {
		env.logger.Warn("skipped malformed lines", "path", args[0], "skipped", len(skipped.Failed), "first", skipped.Failed[0].Error())
	} else if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s: no word vectors to index", args[0])
	}
	env.logger.Info("word vectors loaded", "path", args[0], "words", len(records), "dimension", dim, "elapsed", time.Since(start).Round(time.Millisecond))
	if repeated := repeatedWords(records); len(repeated) > 0 {
		env.logger.Warn("corpus repeats words", "words", len(repeated), "first", repeated[0], "policy", cfg.Build.DuplicatePolicy)
	}

	if persist.VectorEncoding(cfg.Store.VectorEncoding) == persist.Quantized &&
		(cfg.Store.QuantizationMin == nil || cfg.Store.QuantizationMax == nil) {
		lo, hi, ok := vector.TrainRange(vectorsOf(records), vector.DefaultRangeQuantile)
		if !ok {
			return types.NewConfigError("store.quantization_min", "cannot train a quantization range from %s", args[0])
		}
		cfg.Store.QuantizationMin, cfg.Store.QuantizationMax = &lo, &hi
		env.logger.Info("quantization range trained", "min", lo, "max", hi)
	}

	hcfg, err := cfg.HNSW(dim)
	if err != nil {
		return err
	}
	desc, err := cfg.Descriptor(hcfg)
	if err != nil {
		return err
	}
	policy, err := hnsw.ParseDuplicatePolicy(cfg.Build.DuplicatePolicy)
	if err != nil {
		return err
	}

	opts := []hnsw.Option{
		hnsw.WithLogger(env.logger),
		hnsw.WithName(desc.EntityTypeName),
		hnsw.WithDuplicatePolicy(policy),
	}
	if cfg.Index.Seed != 0 {
		opts = append(opts, hnsw.WithRandSource(rand.NewSource(cfg.Index.Seed)))
	}
	idx, err := hnsw.New[string](hcfg, opts...)
	if err != nil {
		return err
	}

	step := max(len(records)/10, 1)
	err = idx.InsertAll(cmd.Context(), records, hnsw.BulkOptions{
		Policy:  policy,
		Workers: cfg.Build.Workers,
		Progress: func(done, total int) {
			if done%step == 0 || done == total {
				env.logger.Info("indexing", "done", done, "total", total)
			}
		},
	})
	var batch *types.BatchError
	if errors.As(err, &batch) {
		env.logger.Warn("some words were not indexed", "failed", len(batch.Failed), "first", batch.Failed[0].Error())
	} else if err != nil {
		return err
	}

	s, err := env.openStore()
	if err != nil {
		return err
	}
	defer closeStore(s, &err)

	stats, err := persist.Export(cmd.Context(), idx, s, desc, persist.StringSubjects,
		persist.WithLogger(env.logger),
		persist.WithProgress(func(done, total int) {
			if done%step == 0 || done == total {
				env.logger.Info("exporting", "done", done, "total", total)
			}
		}))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if s.compact != nil {
		if err := s.compact(); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	if err := persist.WriteDescriptorFile(cfg.DescriptorFile(), desc); err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	if env.asJSON {
		return outputJSON(cmd, map[string]any{
			"nodes":                 stats.Nodes,
			"entities_created":      stats.EntitiesCreated,
			"entities_reused":       stats.EntitiesReused,
			"relationships_created": stats.RelationshipsCreated,
			"relationships_kept":    stats.RelationshipsKept,
			"descriptor":            cfg.DescriptorFile(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d words in %s, descriptor %s\n",
		stats.Nodes, time.Since(start).Round(time.Millisecond), cfg.DescriptorFile())
	return nil
}

// repeatedWords lists the words that occur more than once in records.
func repeatedWords(records []vector.Record[string]) []string {
	sorted := slices.Clone(records)
	vector.SortBySubject(sorted)
	var out []string
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Subject() == sorted[i-1].Subject() &&
			(len(out) == 0 || out[len(out)-1] != sorted[i].Subject()) {
			out = append(out, sorted[i].Subject())
		}
	}
	return out
}

func vectorsOf(records []vector.Record[string]) [][]float32 {
	out := make([][]float32, len(records))
	for i, r := range records {
		out[i] = r.Vector()
	}
	return out
}
