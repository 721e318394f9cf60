package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List registered job types and their task pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		reg := appInstance.Service.Registry
		types := reg.JobTypes()
		if len(types) == 0 {
			fmt.Printf("No pipelines registered (definitions: %s).\n", appInstance.Config.Pipeline.Definitions)
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job Type", "Tasks", "Split", "Interruptible", "Description"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, jt := range types {
			p, err := reg.Pipeline(jt.Pipeline())
			if err != nil {
				return err
			}
			ids := make([]string, 0, p.Len())
			for _, id := range p.Progression() {
				ids = append(ids, id.String())
			}
			table.Append([]string{
				jt.Name(),
				strings.Join(ids, " -> "),
				yesNo(jt.Splittable()),
				yesNo(jt.CanInterrupt()),
				p.Description(),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pipelinesCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
