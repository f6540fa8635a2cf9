package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var dlqURL string

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and drive the dead-letter queue of a running gateway",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dlqGet("/dlq")
	},
}

var dlqProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one redelivery pass immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dlqPost("/dlq/process")
	},
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqURL, "url", "http://localhost:8080", "gateway base URL")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqProcessCmd)
	rootCmd.AddCommand(dlqCmd)
}

func dlqGet(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(dlqURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func dlqPost(path string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(dlqURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s: %s", resp.Status, body)
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
