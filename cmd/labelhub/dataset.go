package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lewtec/labelhub/annotation"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/service"
	"github.com/spf13/cobra"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Import, inspect and export datasets",
}

// parseStorageRef reads STORAGE:path, a bare path means SERVER
func parseStorageRef(s string) (domain.StorageRef, error) {
	kind, path, ok := strings.Cut(s, ":")
	if !ok {
		return domain.StorageRef{Kind: domain.StorageServer, Path: s}, nil
	}
	k, err := domain.ParseStorageKind(kind)
	if err != nil {
		return domain.StorageRef{}, err
	}
	return domain.StorageRef{Kind: k, Path: path}, nil
}

// parseLabel reads name or name=#color
func parseLabel(s string) service.LabelInput {
	name, color, ok := strings.Cut(s, "=")
	if !ok {
		color = service.DefaultLabelColor
	}
	return service.LabelInput{Name: name, Color: color}
}

func datasetService(store *repository.Store) (*service.DatasetService, error) {
	adapter, err := annotation.NewStorageAdapter(config, logger)
	if err != nil {
		return nil, err
	}
	return service.NewDatasetService(store, adapter, nil, logger), nil
}

var datasetImportCmd = &cobra.Command{
	Use:   "import [flags] <ref>...",
	Short: "Create a dataset from the images below one or more storage paths",
	Long: `Create a dataset from the images found below each ref. A ref is STORAGE:path
with STORAGE one of SERVER, WEB or S3; a bare path means SERVER.

Example:
  labelhub dataset import --owner alice --name receipts --type OCR SERVER:scans/2024 S3:receipts`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		name, _ := cmd.Flags().GetString("name")
		typ, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		labels, _ := cmd.Flags().GetStringSlice("label")

		in := service.CreateDatasetInput{
			Name:        name,
			Description: description,
			Type:        domain.DatasetType(strings.ToUpper(typ)),
		}
		for _, arg := range args {
			ref, err := parseStorageRef(arg)
			if err != nil {
				return err
			}
			in.Sources = append(in.Sources, ref)
		}
		for _, l := range labels {
			in.Labels = append(in.Labels, parseLabel(l))
		}

		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()
		u, err := findUser(cmd.Context(), store, owner)
		if err != nil {
			return err
		}
		svc, err := datasetService(store)
		if err != nil {
			return err
		}
		ds, err := svc.Create(cmd.Context(), u.ID, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", ds.ID, ds.Stats.ImageCount)
		return nil
	},
}

func printStats(w io.Writer, header bool, ds *service.DatasetView) {
	if header {
		fmt.Fprintln(w, strings.Join([]string{"id", "name", "type", "images", "annotated", "annotations", "preannotated"}, "\t"))
	}
	fmt.Fprintln(w, strings.Join([]string{
		ds.ID,
		ds.Name,
		string(ds.Type),
		strconv.FormatInt(ds.Stats.ImageCount, 10),
		strconv.FormatInt(ds.Stats.AnnotatedImageCount, 10),
		strconv.FormatInt(ds.Stats.AnnotationCount, 10),
		strconv.FormatInt(ds.Stats.PreAnnotatedImageCount, 10),
	}, "\t"))
}

var datasetStatsCmd = &cobra.Command{
	Use:   "stats [dataset-id]",
	Short: "Print tab separated counters of one or every dataset",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()
		svc, err := datasetService(store)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			ds, err := svc.Get(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			printStats(out, true, ds)
			fmt.Fprintf(out, "unassigned\t%s\nunannotated\t%s\n", ds.Index.Unassigned, ds.Index.Unannotated)
			return nil
		}

		for page := 1; ; page++ {
			list, err := svc.List(cmd.Context(), service.Page{Page: page, PageSize: service.MaxPageSize})
			if err != nil {
				return err
			}
			for i, ds := range list.Items {
				printStats(out, page == 1 && i == 0, ds)
			}
			if int64(page*service.MaxPageSize) >= list.Total {
				return nil
			}
		}
	},
}

var datasetExportCmd = &cobra.Command{
	Use:   "export <dataset-id>",
	Short: "Write the human OCR transcriptions of a dataset as JSON training samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		question, _ := cmd.Flags().GetString("question")

		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()
		u, err := findUser(cmd.Context(), store, owner)
		if err != nil {
			return err
		}
		svc, err := datasetService(store)
		if err != nil {
			return err
		}
		samples, err := svc.ExportOCR(cmd.Context(), u.ID, args[0], question)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(samples)
	},
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetImportCmd, datasetStatsCmd, datasetExportCmd)

	datasetImportCmd.Flags().String("owner", "", "Id or name of the owning user")
	datasetImportCmd.Flags().String("name", "", "Dataset name")
	datasetImportCmd.Flags().String("type", string(domain.DatasetObjectDetection), "OBJECT_DETECTION or OCR")
	datasetImportCmd.Flags().String("description", "", "Dataset description, markdown")
	datasetImportCmd.Flags().StringSlice("label", nil, "Label as name or name=#color, repeatable")
	datasetImportCmd.MarkFlagRequired("owner")
	datasetImportCmd.MarkFlagRequired("name")

	datasetExportCmd.Flags().String("owner", "", "Id or name of the owning user")
	datasetExportCmd.Flags().String("question", "", "Question paired with every transcription")
	datasetExportCmd.MarkFlagRequired("owner")
}
