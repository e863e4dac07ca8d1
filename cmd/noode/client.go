package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiGet fetches a JSON payload from the coordinator API.
func apiGet(path string, out any) error {
	resp, err := http.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("reach coordinator: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// apiPost posts a JSON payload to the coordinator API.
func apiPost(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := http.Post(serverAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reach coordinator: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("coordinator: %s", envelope.Error)
		}
		return fmt.Errorf("coordinator returned %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
