package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// serverURL is the base URL for the insightd HTTP server
var serverURL string

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "insightd server URL")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check insightd daemon health",
	Long: `Check the health and readiness of a running insightd daemon.

Examples:
  # Check the local daemon
  insight health

  # Check a daemon elsewhere
  insight health --server http://analysis-host:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

// HealthResponse matches internal/http/types.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse matches internal/http/types.go ReadyResponse
type ReadyResponse struct {
	Ready bool `json:"ready"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var health HealthResponse
	if err := getJSON(client, serverURL+"/health", &health); err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}

	ready := ReadyResponse{}
	readyErr := getJSON(client, serverURL+"/ready", &ready)

	fmt.Printf("Server URL: %s\n", serverURL)
	fmt.Printf("Status: %s\n", health.Status)
	if readyErr != nil {
		fmt.Printf("Ready: no (%v)\n", readyErr)
		return fmt.Errorf("daemon is up but not ready")
	}
	fmt.Printf("Ready: %v\n", ready.Ready)
	if !ready.Ready {
		return fmt.Errorf("daemon is not ready")
	}
	return nil
}

// getJSON fetches url and decodes the JSON body. Non-2xx responses with a
// decodable body still decode, so /ready reports false instead of erroring.
func getJSON(client *http.Client, url string, v interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
