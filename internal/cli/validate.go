package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexusaddons/releasepipe/internal/workflow"
)

func newValidateCmd(verbose *bool) *cobra.Command {
	var workflowPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a workflow definition file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			wf, err := workflow.Load(workflowPath, os.LookupEnv)
			if err != nil {
				return err
			}
			log.Info("workflow is valid",
				"name", wf.Name,
				"artifact", wf.Artifact,
				"toolchain", wf.Toolchain.Channel,
				"tagPattern", wf.Release.TagPattern,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", workflowPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&workflowPath, "workflow", "w", "release.yaml", "workflow definition file")
	return cmd
}
