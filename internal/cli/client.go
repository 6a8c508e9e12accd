package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func jsonReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// apiAddr is the base URL of a running daemon, overridable per command.
var apiAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:11434", "Address of a running tutu daemon")
}

// getJSON performs a GET against the daemon API and decodes the JSON body.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(apiAddr + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return json.Unmarshal(body, out)
}

// postJSON performs a POST with a JSON body against the daemon API and
// decodes the JSON response.
func postJSON(path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(apiAddr+path, "application/json", jsonReader(payload))
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return json.Unmarshal(body, out)
}
