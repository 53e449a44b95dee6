package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/offlog/internal/capture"
	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/spf13/cobra"
)

var (
	captureMimeType  string
	captureUploadURL string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Manage locally buffered photo captures",
	Long: `Manage the local photo capture queue.

Captures are deduplicated by content: adding the same bytes twice keeps a
single entry. With the bbolt store these commands need the daemon to be
stopped; use the sqlite store to share the queue with a running daemon.`,
}

var captureAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Queue one or more photos",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCaptureAdd,
}

var captureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued captures",
	Args:  cobra.NoArgs,
	Run:   runCaptureList,
}

var captureStatusCmd = &cobra.Command{
	Use:       "status <id> <queued|processing|failed>",
	Short:     "Set the status of a capture",
	Args:      cobra.ExactArgs(2),
	Run:       runCaptureStatus,
	ValidArgs: []string{string(models.CaptureQueued), string(models.CaptureProcessing), string(models.CaptureFailed)},
}

var captureRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove captures from the queue",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCaptureRm,
}

var captureCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of queued captures",
	Args:  cobra.NoArgs,
	Run:   runCaptureCount,
}

var captureProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Upload queued captures and remove the ones accepted",
	Long: `Upload every queued or failed capture to --upload-url as the request body,
with the capture's MIME type as Content-Type. Captures answered with a 2xx
status are removed; the rest are marked failed and kept.`,
	Args: cobra.NoArgs,
	Run:  runCaptureProcess,
}

func init() {
	captureAddCmd.Flags().StringVar(&captureMimeType, "mime", "", "MIME type (detected from content when empty)")
	captureProcessCmd.Flags().StringVar(&captureUploadURL, "upload-url", "", "URL that accepts capture uploads")
	captureProcessCmd.MarkFlagRequired("upload-url")

	captureCmd.AddCommand(captureAddCmd, captureListCmd, captureStatusCmd, captureRmCmd, captureCountCmd, captureProcessCmd)
}

func openCaptureContext() (*cmdContext, *capture.Queue) {
	c := initStoreContext()
	q, err := openCaptureQueue(c.Config, c.Store, c.Logger)
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	return c, q
}

func runCaptureAdd(_ *cobra.Command, args []string) {
	ctx := context.Background()
	c, q := openCaptureContext()
	defer c.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			c.Close()
			exitError("read %s: %v", path, err)
		}
		res, err := q.Enqueue(ctx, data, captureMimeType, capture.WithFilename(filepath.Base(path)))
		if err != nil {
			c.Close()
			exitError("queue %s: %v", path, err)
		}
		if res.Duplicate {
			yellow.Printf("already queued  %s  %s\n", res.Item.ID, path)
		} else {
			green.Printf("queued          %s  %s\n", res.Item.ID, path)
		}
	}
}

func runCaptureList(_ *cobra.Command, _ []string) {
	c, q := openCaptureContext()
	defer c.Close()

	items, err := q.List(context.Background())
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	if len(items) == 0 {
		fmt.Println("No queued captures")
		return
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		name := item.Filename
		if name == "" {
			name = "-"
		}
		rows = append(rows, []string{
			item.ID,
			string(item.Status),
			item.MimeType,
			humanize.Bytes(uint64(item.Size)),
			humanize.Time(item.CreatedAt),
			name,
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Status", "Type", "Size", "Created", "File"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func runCaptureStatus(_ *cobra.Command, args []string) {
	status, err := models.ParseCaptureStatus(args[1])
	if err != nil {
		exitError("%v", err)
	}
	c, q := openCaptureContext()
	defer c.Close()

	if err := q.SetStatus(context.Background(), args[0], status); err != nil {
		c.Close()
		exitError("%v", err)
	}
	fmt.Printf("%s -> %s\n", args[0], status)
}

func runCaptureRm(_ *cobra.Command, args []string) {
	c, q := openCaptureContext()
	defer c.Close()

	for _, id := range args {
		if err := q.Remove(context.Background(), id); err != nil {
			c.Close()
			exitError("%v", err)
		}
		fmt.Printf("removed %s\n", id)
	}
}

func runCaptureCount(_ *cobra.Command, _ []string) {
	c, q := openCaptureContext()
	defer c.Close()

	n, err := q.Count(context.Background())
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	fmt.Println(n)
}

func runCaptureProcess(_ *cobra.Command, _ []string) {
	c, q := openCaptureContext()
	defer c.Close()

	upload := uploadFunc(captureUploadURL, &http.Client{Timeout: 2 * time.Minute})
	res, err := q.Process(context.Background(), upload)
	if err != nil {
		c.Close()
		exitError("%v", err)
	}

	if res.Processed > 0 {
		color.New(color.FgGreen).Printf("Uploaded %d capture(s)\n", res.Processed)
	}
	if res.Failed > 0 {
		color.New(color.FgYellow).Printf("%d capture(s) failed and stay queued\n", res.Failed)
	}
	if res.Processed == 0 && res.Failed == 0 {
		fmt.Println("Nothing to upload")
	}
}

// uploadFunc posts each capture's bytes to url.
func uploadFunc(url string, client *http.Client) capture.ProcessFunc {
	return func(ctx context.Context, item *models.QueuedCapture) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(item.Blob))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", item.MimeType)
		req.Header.Set("X-Capture-Checksum", item.Checksum)
		if item.Filename != "" {
			req.Header.Set("X-Capture-Filename", item.Filename)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("upload rejected: HTTP %d", resp.StatusCode)
		}
		return nil
	}
}
