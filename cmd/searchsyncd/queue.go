package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/datakite/searchsync/internal/database"
)

var queueListLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the search index retry queue",
	Long: `Inspect and manage the search index retry queue.

Rows that exhaust the automatic retry chain end up in status FAILED and stay
queued until an operator clears them ('queue purge') or requeues them for
another round of automatic retries ('queue requeue').`,
}

var queueListCmd = &cobra.Command{
	Use:   "list [status]",
	Short: "List retry queue rows by status (default FAILED)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := database.RetryStatusFailed
		if len(args) == 1 {
			status = database.RetryStatus(args[0])
		}

		dao, closeDB, err := openQueueDAO()
		if err != nil {
			return err
		}
		defer closeDB()

		records, err := dao.ListByStatus(cmd.Context(), status, queueListLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY ID\tENTITY FQN\tSTATUS\tUPDATED\tLAST FAILURE")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.EntityID, rec.EntityFQN, rec.Status,
				rec.UpdatedAt.Format("2006-01-02 15:04:05"),
				truncate(rec.LastFailureReason, 80))
		}
		return w.Flush()
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all FAILED retry queue rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		dao, closeDB, err := openQueueDAO()
		if err != nil {
			return err
		}
		defer closeDB()

		purged, err := dao.DeleteByStatuses(cmd.Context(), []database.RetryStatus{database.RetryStatusFailed})
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d failed rows\n", purged)
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Requeue all FAILED rows as PENDING for another retry round",
	RunE: func(cmd *cobra.Command, args []string) error {
		dao, closeDB, err := openQueueDAO()
		if err != nil {
			return err
		}
		defer closeDB()

		requeued, err := dao.ResetFailed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Requeued %d failed rows\n", requeued)
		return nil
	},
}

func init() {
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 100, "Maximum rows to list")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	queueCmd.AddCommand(queueRequeueCmd)
}

func openQueueDAO() (database.RetryQueueDAO, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return database.NewRetryQueueDAO(db), func() { db.Close() }, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
