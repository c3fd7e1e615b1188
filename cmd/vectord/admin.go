package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of a running vectord daemon
	serverURL string
	// adminToken is sent as X-Admin-Token on admin requests
	adminToken string
	// resetNamespace narrows reset to one namespace; empty clears everything
	resetNamespace string
)

func init() {
	for _, cmd := range []*cobra.Command{migrateCmd, agentMigrateCmd, resetCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9090", "vectord server URL")
		cmd.Flags().StringVar(&adminToken, "admin-token", "", "admin token (required)")
		_ = cmd.MarkFlagRequired("admin-token")
		rootCmd.AddCommand(cmd)
	}
	resetCmd.Flags().StringVar(&resetNamespace, "namespace", "", "only clear this namespace (e.g. workspace_ws1)")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a full reindex on a running daemon",
	Long: `Run a full reindex on a running daemon.

Every message and user bio in the chat store is re-embedded and re-upserted.
Stable record IDs make the run idempotent; rerunning after a crash is safe.

Examples:
  vectord migrate --admin-token $VECTORD_ADMIN_TOKEN
  vectord migrate --server http://vectord.internal:9090 --admin-token $TOKEN`,
	RunE: runMigrate,
}

var agentMigrateCmd = &cobra.Command{
	Use:   "agent-migrate",
	Short: "Backfill bio records for users lacking one",
	Long: `Backfill a bio record for every user who lacks one on a running daemon.

Users without a profile bio get one synthesized from their message history.

Examples:
  vectord agent-migrate --admin-token $VECTORD_ADMIN_TOKEN`,
	RunE: runAgentMigrate,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destructively clear the vector index",
	Long: `Destructively clear the vector index on a running daemon.

Without --namespace, all namespaces and records are deleted. Run migrate
afterwards to rebuild.

Examples:
  vectord reset --admin-token $VECTORD_ADMIN_TOKEN
  vectord reset --namespace workspace_ws1 --admin-token $TOKEN`,
	RunE: runReset,
}

// MigrateResponse matches internal/httpapi MigrateResponse.
type MigrateResponse struct {
	Success      bool `json:"success"`
	TotalUpdated int  `json:"totalUpdated"`
}

// AgentMigrateResponse matches internal/httpapi AgentMigrateResponse.
type AgentMigrateResponse struct {
	Success       bool     `json:"success"`
	Migrated      int      `json:"migrated"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	FailedUserIDs []string `json:"failedUserIds,omitempty"`
}

// ResetResponse matches internal/httpapi SyncResponse.
type ResetResponse struct {
	Success bool `json:"success"`
}

func runMigrate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Starting full reindex via %s ...\n", serverURL)

	var resp MigrateResponse
	if err := postAdmin("/migrate", "{}", &resp); err != nil {
		return err
	}

	fmt.Printf("Reindex complete: %d records updated\n", resp.TotalUpdated)
	return nil
}

func runAgentMigrate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Starting agent profile migration via %s ...\n", serverURL)

	var resp AgentMigrateResponse
	if err := postAdmin("/ai-agent/migrate", "{}", &resp); err != nil {
		return err
	}

	fmt.Printf("Migration complete: %d migrated, %d skipped, %d failed\n",
		resp.Migrated, resp.Skipped, resp.Failed)
	for _, id := range resp.FailedUserIDs {
		fmt.Printf("  failed: %s\n", id)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetNamespace != "" {
		fmt.Printf("Resetting namespace %s via %s ...\n", resetNamespace, serverURL)
	} else {
		fmt.Printf("Resetting vector index via %s ...\n", serverURL)
	}

	body, err := json.Marshal(map[string]string{"namespace": resetNamespace})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var resp ResetResponse
	if err := postAdmin("/vectordb/reset", string(body), &resp); err != nil {
		return err
	}

	if resetNamespace != "" {
		fmt.Println("Namespace cleared")
	} else {
		fmt.Println("Index cleared")
	}
	return nil
}

// postAdmin issues an authenticated POST and decodes the JSON response.
// Batch jobs can take a while, so the client timeout is generous.
func postAdmin(path, body string, out any) error {
	url := strings.TrimSuffix(serverURL, "/") + path

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", adminToken)

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
