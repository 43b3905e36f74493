package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the stored graph and its descriptor",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}
}

func runInfo(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
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
	desc := h.Config()
	entities, err := s.CountEntities(cmd.Context(), desc.EntityTypeName)
	if err != nil {
		return err
	}
	rels, err := s.CountRelationships(cmd.Context(), desc.RelationshipTypeName)
	if err != nil {
		return err
	}

	if env.asJSON {
		return outputJSON(cmd, map[string]any{
			"descriptor":    desc,
			"nodes":         h.Size(),
			"entities":      entities,
			"relationships": rels,
			"backend":       env.cfg.Store.Backend,
			"location":      s.location,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend: %s (%s)\n", env.cfg.Store.Backend, s.location)
	for _, row := range describe(desc) {
		fmt.Fprintf(out, "%s: %s\n", row[0], row[1])
	}
	fmt.Fprintf(out, "nodes: %d\nentities: %d\nrelationships: %d\n", h.Size(), entities, rels)
	return nil
}
