package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Ask the worker to replay queued submissions now",
	Args:  cobra.NoArgs,
	Run:   runRetry,
}

var networkCmd = &cobra.Command{
	Use:       "network online|offline",
	Short:     "Report a connectivity change to the daemon",
	Long:      `Report a connectivity change. Going online makes the daemon retry queued submissions.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"online", "offline"},
	Run:       runNetwork,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the replay worker status",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

var mutationsCmd = &cobra.Command{
	Use:   "mutations",
	Short: "Inspect queued submissions",
}

var mutationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued submissions in replay order",
	Args:  cobra.NoArgs,
	Run:   runMutationsList,
}

func init() {
	mutationsCmd.AddCommand(mutationsListCmd)
}

func runRetry(_ *cobra.Command, _ []string) {
	c := initContext()
	resp, err := c.controlClient().Retry(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	if resp.Removed == 0 && resp.Failed == 0 {
		fmt.Println("Nothing to replay")
		return
	}
	if resp.Removed > 0 {
		green.Printf("Replayed %d submission(s)\n", resp.Removed)
	}
	if resp.Failed > 0 {
		yellow.Printf("%d submission(s) still queued\n", resp.Failed)
	}
}

func runNetwork(_ *cobra.Command, args []string) {
	c := initContext()
	online := args[0] == "online"
	resp, err := c.controlClient().SetNetwork(context.Background(), online)
	if err != nil {
		exitError("%v", err)
	}
	if !resp.Changed {
		fmt.Printf("Already %s\n", args[0])
		return
	}
	color.New(color.FgGreen).Printf("Marked %s\n", args[0])
}

func runStatus(_ *cobra.Command, _ []string) {
	c := initContext()
	st, err := c.controlClient().Status(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Print("Worker:   ")
	if st.State == "active" {
		green.Println(st.State)
	} else {
		yellow.Println(st.State)
	}

	fmt.Print("Network:  ")
	if st.Online {
		green.Println("online")
	} else {
		red.Println("offline")
	}

	fmt.Printf("Queued:   %d\n", st.Pending)
	if len(st.PendingSyncs) > 0 {
		fmt.Printf("Syncs:    %v\n", st.PendingSyncs)
	}

	if d := st.LastDrain; d != nil {
		fmt.Printf("Last run: %s (%s), %d replayed, %d kept\n",
			humanize.Time(d.At), d.Trigger, d.Removed, d.Failed)
		if d.Error != "" {
			red.Printf("          %s\n", d.Error)
		}
	}
}

func runMutationsList(_ *cobra.Command, _ []string) {
	c := initContext()
	list, err := c.controlClient().ListMutations(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	if len(list) == 0 {
		fmt.Println("No queued submissions")
		return
	}

	rows := make([][]string, 0, len(list))
	for _, m := range list {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			m.URL,
			humanize.Bytes(uint64(len(m.Body))),
			queuedAge(m.QueuedAt),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "URL", "Body", "Queued"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	))
}

func queuedAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
