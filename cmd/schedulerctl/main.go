// Command schedulerctl is the operator CLI for the task scheduler daemon,
// talking to its HTTP surface directly rather than through a gateway RPC.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	addr  string
	token string
)

func main() {
	root := &cobra.Command{
		Use:   "schedulerctl",
		Short: "Manage task scheduler jobs",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8085", "scheduler daemon base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("SCHEDULER_HTTP_AUTH_TOKEN"), "bearer auth token")

	root.AddCommand(listCmd())
	root.AddCommand(getCmd())
	root.AddCommand(runCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(tickCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	var filter, sortBy string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		Run: func(cmd *cobra.Command, args []string) {
			var resp struct {
				Tasks []map[string]any `json:"tasks"`
			}
			if err := post("/scheduler_tasks_list", map[string]any{"filter": filter, "sort": sortBy}, &resp); err != nil {
				fatal(err)
			}
			printTasks(resp.Tasks, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter expression")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort field, optionally prefixed with - for descending")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [uuid]",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var resp struct {
				Task map[string]any `json:"task"`
			}
			if err := post("/scheduler_task_get", map[string]any{"uuid": args[0]}, &resp); err != nil {
				fatal(err)
			}
			data, _ := json.MarshalIndent(resp.Task, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [uuid]",
		Short: "Manually trigger a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var resp struct {
				Status string `json:"status"`
			}
			if err := post("/scheduler_task_run", map[string]any{"uuid": args[0]}, &resp); err != nil {
				fatal(err)
			}
			fmt.Printf("Dispatched %s: %s\n", args[0], resp.Status)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [uuid]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var resp struct {
				Status string `json:"status"`
			}
			if err := post("/scheduler_task_delete", map[string]any{"uuid": args[0]}, &resp); err != nil {
				fatal(err)
			}
			fmt.Printf("Deleted %s\n", args[0])
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Force an immediate scheduler tick (loopback only)",
		Run: func(cmd *cobra.Command, args []string) {
			var resp struct {
				Status     string `json:"status"`
				Dispatched int    `json:"dispatched"`
			}
			if err := post("/scheduler_tick", map[string]any{}, &resp); err != nil {
				fatal(err)
			}
			fmt.Printf("Tick dispatched %d run(s)\n", resp.Dispatched)
		},
	}
}

func printTasks(tasks []map[string]any, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(tasks, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks configured.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "UUID\tNAME\tTYPE\tSTATE\tSCHEDULE\n")
	for _, t := range tasks {
		uuid, _ := t["uuid"].(string)
		if len(uuid) > 8 {
			uuid = uuid[:8]
		}
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t%v\n", uuid, t["name"], t["type"], t["state"], t["schedule_display"])
	}
	tw.Flush()
}

func post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, addr+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
