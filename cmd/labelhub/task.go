package main

import (
	"fmt"

	"github.com/lewtec/labelhub/annotation"
	"github.com/lewtec/labelhub/internal/service"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Distribute dataset images to annotators",
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign [flags] <user>...",
	Short: "Deal the images ordered start..end of a dataset to one task per user",
	Long: `Deal the images ordered start..end of a dataset evenly and at random to the given
users. Every user gets one task and images are never shared between them.

Example:
  labelhub task assign --owner alice --dataset <id> --name round-1 --start 0 --end 99 bob carol`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		in := service.CreateTasksInput{}
		in.DatasetID, _ = cmd.Flags().GetString("dataset")
		in.Name, _ = cmd.Flags().GetString("name")
		in.Description, _ = cmd.Flags().GetString("description")
		in.Start, _ = cmd.Flags().GetInt("start")
		in.End, _ = cmd.Flags().GetInt("end")

		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()
		ctx := cmd.Context()

		u, err := findUser(ctx, store, owner)
		if err != nil {
			return err
		}
		names := map[string]string{}
		for _, ref := range args {
			a, err := findUser(ctx, store, ref)
			if err != nil {
				return err
			}
			names[a.ID] = a.Name
			in.AssigneeIDs = append(in.AssigneeIDs, a.ID)
		}

		adapter, err := annotation.NewStorageAdapter(config, logger)
		if err != nil {
			return err
		}
		svc := service.NewTaskService(store, adapter, nil, logger)
		tasks, err := svc.CreateTasks(ctx, u.ID, in)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, names[t.AssigneeID])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAssignCmd)

	taskAssignCmd.Flags().String("owner", "", "Id or name of the dataset owner")
	taskAssignCmd.Flags().String("dataset", "", "Dataset id")
	taskAssignCmd.Flags().String("name", "", "Task name, shared by the whole batch")
	taskAssignCmd.Flags().String("description", "", "Task description")
	taskAssignCmd.Flags().Int("start", 0, "First image order, inclusive")
	taskAssignCmd.Flags().Int("end", 0, "Last image order, inclusive")
	taskAssignCmd.MarkFlagRequired("owner")
	taskAssignCmd.MarkFlagRequired("dataset")
	taskAssignCmd.MarkFlagRequired("name")
}
