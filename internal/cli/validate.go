package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/me/goflow/internal/parser"
	"github.com/me/goflow/pkg/model"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>...",
		Short: "Check workflow documents without running them",
		Long: `Validate parses each document, checks it against the schema, and builds
its dependency graph. Every problem found is printed; the command fails if
any document is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				if err := validateFile(path); err != nil {
					invalid++
					printValidation(out, path, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok\n", path)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d workflow documents are invalid", invalid, len(args))
			}
			return nil
		},
	}
}

// validateFile loads path and returns the first stage's error: parse,
// schema, then dependency graph.
func validateFile(path string) error {
	doc, err := parser.New(logger).ParseFile(path)
	if err != nil {
		return err
	}
	if err := parser.NewValidator(logger).Validate(doc); err != nil {
		return err
	}
	_, err = parser.BuildDAG(doc)
	return err
}

func printValidation(w io.Writer, path string, err error) {
	var schemaErrs model.SchemaErrors
	if errors.As(err, &schemaErrs) {
		fmt.Fprintf(w, "%s: %d problems\n", path, len(schemaErrs))
		for _, e := range schemaErrs {
			fmt.Fprintf(w, "  %s: %s\n", e.Field, e.Message)
		}
		return
	}
	fmt.Fprintf(w, "%s: %v\n", path, err)
}
