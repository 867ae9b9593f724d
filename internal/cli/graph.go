package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/goflow/internal/parser"
)

// graphOutput is the JSON shape printed by the graph command.
type graphOutput struct {
	Workflow   string              `json:"workflow"`
	Order      []string            `json:"order"`
	Edges      map[string][]string `json:"edges"`
	Dependents map[string][]string `json:"dependents"`
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <workflow-file>",
		Short: "Print a workflow's dependency graph and execution order as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parser.New(logger).ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}
			if err := parser.NewValidator(logger).Validate(doc); err != nil {
				return fmt.Errorf("validate workflow: %w", err)
			}
			dag, err := parser.BuildDAG(doc)
			if err != nil {
				return err
			}

			out := graphOutput{
				Workflow:   doc.Metadata.Name,
				Order:      dag.Order,
				Edges:      dag.Edges,
				Dependents: dag.Dependents,
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal graph: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
