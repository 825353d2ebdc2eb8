package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagehand",
		Short:         "Stagehand executes staged CI pipelines locally",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.StringArray("pipeline", nil, "pipeline file to include (repeatable)")
	persistent.StringArray("stage", nil, "stage filter (repeatable)")
	persistent.StringArray("job", nil, "job filter (repeatable)")
	persistent.String("event", "", "trigger event (push|tag|merge_request|manual)")
	persistent.String("ref", "", "ref name the event refers to (branch or tag)")
	persistent.Bool("dry-run", false, "print commands without executing them")
	persistent.BoolP("verbose", "v", false, "stream job output in real time")
	persistent.String("format", "pretty", "output format (pretty|json)")
	persistent.Int("concurrency", 0, "maximum jobs running at once within a stage")
	persistent.String("executor", "", "job executor (auto|shell|docker)")
	persistent.String("cache-dir", "", "directory for job caches")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}
