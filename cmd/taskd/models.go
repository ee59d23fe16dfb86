package main

import (
	"fmt"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"taskd/internal/registry"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models found in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := registry.LoadDir(a.cfg.ModelsDir)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return json.NewEncoder(a.stdout).Encode(models)
			}
			if len(models) == 0 {
				fmt.Fprintf(a.stderr, "taskd: no *.gguf models in %s\n", a.cfg.ModelsDir)
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, humanSize(m.SizeBytes), m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&a.jsonOut, "json", false, "print models as JSON")
	return cmd
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
