package main

import (
	"encoding/json"
	"fmt"

	"cvewatch/internal/notify"
	"cvewatch/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	testProjectsFile string
	testNotification string
)

var testCmd = &cobra.Command{
	Use:   "test <organization> <project>",
	Short: "Send a test notification",
	Long: `Sends a synthetic report through one of the project's notifications to
verify the channel configuration, bypassing subscription matching. Only
webhook notifications can be tested. The result is printed as JSON.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, projectName := args[0], args[1]

		projects, err := pipeline.LoadProjects(testProjectsFile)
		if err != nil {
			return err
		}

		for _, p := range projects {
			if p.Organization != org || p.Name != projectName {
				continue
			}
			for i := range p.Notifications {
				n := &p.Notifications[i]
				if n.Name != testNotification {
					continue
				}

				store, err := openStore()
				if err != nil {
					return err
				}
				defer store.Close()

				dispatcher := notify.NewDispatcher(store, smtpFromConfig(), 1, dispatchTimeout(), nil)
				result := dispatcher.SendTest(cmd.Context(), org, projectName, n)

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return fmt.Errorf("project %s/%s has no notification %q", org, projectName, testNotification)
		}
		return fmt.Errorf("no project %s/%s in %s", org, projectName, testProjectsFile)
	},
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVar(&testProjectsFile, "projects", "", "JSON file with project definitions (required)")
	testCmd.Flags().StringVar(&testNotification, "notification", "", "Notification name to test (required)")
	testCmd.MarkFlagRequired("projects")
	testCmd.MarkFlagRequired("notification")
}
