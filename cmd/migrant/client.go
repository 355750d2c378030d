package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// adminAddr is the base URL of a running `migrant serve` admin API.
// The CLI's status/mode/backfill/verify subcommands are thin HTTP
// clients against it rather than re-deriving migration state
// themselves, so a fleet of CLI invocations and the running server
// always agree on phase and backfill state.
var adminAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "http://localhost:8090", "Base URL of a running migrant serve admin API")
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func adminRequest(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, adminAddr+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}
	return resp, nil
}

func adminRequestJSON(method, path string, body, out any) error {
	resp, err := adminRequest(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON marshals v to JSON and writes it to w, indented for
// terminal readability.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
