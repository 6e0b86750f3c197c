package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"batchvec/internal/api"
	"batchvec/internal/engine"
	"batchvec/internal/ipc"
	"batchvec/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Submit and control the vectorization queue",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueControlCommand(ctx, "pause", "Pause the queue after the current item", (*ipc.Client).QueuePause))
	queueCmd.AddCommand(newQueueControlCommand(ctx, "resume", "Resume a paused queue", (*ipc.Client).QueueResume))
	queueCmd.AddCommand(newQueueControlCommand(ctx, "cancel", "Stop processing and clear the queue", (*ipc.Client).QueueCancel))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file-or-dir>...",
		Short: "Start a new batch from image files, replacing the current queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, skipped, err := collectImages(args)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			for _, skip := range skipped {
				fmt.Fprintf(stdout, "Skipping %s: %s\n", skip.Path, skip.Reason)
			}
			if len(items) == 0 {
				return errors.New("no image files to queue")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueAdd(ipc.QueueAddRequest{Items: items})
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Queued %d image(s)\n", resp.Accepted)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatusFilter(listStatuses)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueGet()
				if err != nil {
					return err
				}
				view := resp.View
				if len(filter) > 0 {
					kept := view.Queue[:0:0]
					for _, item := range view.Queue {
						if _, ok := filter[item.Status]; ok {
							kept = append(kept, item)
						}
					}
					view.Queue = kept
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				stdout := cmd.OutOrStdout()
				if len(view.Queue) == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				fmt.Fprint(stdout, renderTable(
					[]string{"#", "Name", "Status", "Type", "Size", "Dimensions", "Error"},
					buildQueueListRows(view.Queue),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintln(stdout, describeSession(view))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the queue view as JSON")
	return cmd
}

func newQueueControlCommand(ctx *commandContext, use, short string, call func(*ipc.Client) (*ipc.QueueControlResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := call(client)
				if err != nil {
					return err
				}
				state := "idle"
				switch {
				case resp.IsPaused:
					state = "paused"
				case resp.IsProcessing:
					state = "processing"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queue %s\n", state)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <name>",
		Short: "Requeue a single item by file name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.QueueRetry(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", name)
				return nil
			})
		},
	}
}

func parseStatusFilter(values []string) (map[queue.Status]struct{}, error) {
	filter := make(map[queue.Status]struct{}, len(values))
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		filter[status] = struct{}{}
	}
	return filter, nil
}

func buildQueueListRows(items []engine.ItemView) [][]string {
	rows := make([][]string, 0, len(items))
	for idx, item := range items {
		dims := ""
		if item.Width > 0 && item.Height > 0 {
			dims = fmt.Sprintf("%dx%d", item.Width, item.Height)
		}
		status := string(item.Status)
		if item.Status == queue.StatusPending && !item.HasData {
			status += " (no data)"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", idx+1),
			item.Name,
			status,
			item.Type,
			humanize.Bytes(uint64(max(item.Size, 0))),
			dims,
			item.Error,
		})
	}
	return rows
}

func describeSession(view engine.View) string {
	summary := api.Summarize(view)
	parts := []string{fmt.Sprintf("%d processed", summary.ProcessedCount)}
	switch {
	case summary.AutoPauseEndTime != "":
		parts = append(parts, "auto-paused until "+summary.AutoPauseEndTime)
	case summary.IsPaused:
		parts = append(parts, "paused")
	case summary.IsProcessing:
		parts = append(parts, "processing")
	}
	parts = append(parts, fmt.Sprintf("format %s", view.Format))
	if view.Folder != "" {
		parts = append(parts, "folder "+view.Folder)
	}
	return strings.Join(parts, ", ")
}
