package commands

import (
	"fmt"
	"io"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/logger"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/storage"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusOpts overrides

func init() {
	statusOpts.register(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [--input batch.json]",
	Short: "Shows which cells of a batch are already on disk.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		statusOpts.apply(cfg)

		input, err := LoadBatch(statusOpts.input)
		if err != nil {
			return err
		}
		jobs, err := resolveJobs(input, cfg.Malha)
		if err != nil {
			return err
		}

		store := storage.NewArtifactStore(cfg.Storage.Root, nil, logger.Discard())
		return printStatus(cmd.OutOrStdout(), store, jobs)
	},
}

// printStatus writes one row per cell. A cell is done once its marker
// exists; the record and document counts come from what was kept.
func printStatus(w io.Writer, store *storage.ArtifactStore, jobs []models.Job) error {
	table := tablewriter.NewWriter(w)
	table.Header("Account", "Year", "Mesh", "Status", "Records", "Documents")

	done, total := 0, 0
	for _, job := range jobs {
		for _, cell := range job.Cells() {
			total++
			if !store.IsComplete(cell) {
				if err := table.Append(cell.Account, cell.Year, cell.MeshLabel(), "pending", "-", "-"); err != nil {
					return err
				}
				continue
			}
			done++

			records := "-"
			if rows, err := store.LoadTable(cell); err == nil {
				records = fmt.Sprint(len(rows))
			}
			documents := "-"
			if docs, err := store.Documents(cell); err == nil {
				documents = fmt.Sprint(len(docs))
			}
			if err := table.Append(cell.Account, cell.Year, cell.MeshLabel(), "done", records, documents); err != nil {
				return err
			}
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d of %d cells done\n", done, total)
	return err
}
