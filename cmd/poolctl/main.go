// Command poolctl is the operator CLI for poold: inspecting pool
// occupancy and draining a pool on demand.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/bpipe-run/preallocpool/internal/status"
)

func main() {
	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Inspect preallocated wrapper job pools",
	}
	root.AddCommand(statusCmd(), listCmd(), stopCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	var addr string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a snapshot of every pool's occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := fetchSnapshot(addr)
			if err != nil {
				return fmt.Errorf("fetching status: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			}

			printSnapshot(snapshot)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8099", "poold status endpoint address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// poolListEntry mirrors poold's GET /pools response row.
type poolListEntry struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
	Idle  int    `json:"idle"`
}

func listCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured pools and their size",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/pools", addr))
			if err != nil {
				return fmt.Errorf("listing pools: %w", err)
			}
			defer resp.Body.Close()

			var entries []poolListEntry
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return fmt.Errorf("decoding pool list: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No pools configured.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "POOL\tTOTAL\tIDLE\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%d\n", e.Name, e.Total, e.Idle)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8099", "poold status endpoint address")
	return cmd
}

func stopCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stop <pool>",
		Short: "Stop every executor in a pool and deregister it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			url := fmt.Sprintf("http://%s/pools/%s/stop", addr, name)
			resp, err := http.Post(url, "application/json", bytes.NewReader(nil))
			if err != nil {
				return fmt.Errorf("stopping pool %q: %w", name, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var body map[string]string
				json.NewDecoder(resp.Body).Decode(&body)
				return fmt.Errorf("stopping pool %q: %s", name, body["error"])
			}
			fmt.Printf("Pool %q stopped.\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8099", "poold status endpoint address")
	return cmd
}

// fetchSnapshot opens the poold status WebSocket feed just long enough
// to read the first snapshot it pushes on connect, then closes.
func fetchSnapshot(addr string) (status.SnapshotPayload, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return status.SnapshotPayload{}, fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return status.SnapshotPayload{}, fmt.Errorf("reading snapshot: %w", err)
	}

	var env status.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return status.SnapshotPayload{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type != status.TypeSnapshot {
		return status.SnapshotPayload{}, fmt.Errorf("unexpected message type %q", env.Type)
	}

	var payload status.SnapshotPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return status.SnapshotPayload{}, fmt.Errorf("decoding snapshot payload: %w", err)
	}
	return payload, nil
}

func printSnapshot(snapshot status.SnapshotPayload) {
	if len(snapshot.Pools) == 0 {
		fmt.Println("No pools configured.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "POOL\tTOTAL\tIDLE\tBUSY\n")
	for _, p := range snapshot.Pools {
		busy := p.Total - p.Idle
		idleLabel := fmt.Sprintf("%d", p.Idle)
		if p.Idle == 0 {
			idleLabel = color.RedString(idleLabel)
		} else {
			idleLabel = color.GreenString(idleLabel)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", p.Name, p.Total, idleLabel, busy)
	}
	w.Flush()
}
