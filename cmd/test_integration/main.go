package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var baseURL = "http://localhost:8080"

func main() {
	if u := os.Getenv("CAIRE_URL"); u != "" {
		baseURL = u
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting smoke test...")

	treeID := fmt.Sprintf("smoke-%d", time.Now().Unix())

	// 1. Create tree
	fmt.Println("1. Creating tree...")
	tree := map[string]any{
		"id":           treeID,
		"name":         "Smoke fever triage",
		"version":      "1.0.0",
		"domain":       "triage",
		"root_node_id": "root",
		"nodes": map[string]any{
			"root": map[string]any{
				"type":      "condition",
				"label":     "Fever above 38?",
				"condition": map[string]any{"variable": "temp", "operator": ">", "threshold": 38},
				"children":  []string{"er", "home"},
			},
			"er":   map[string]any{"type": "action", "label": "ER", "action": map[string]any{"recommendation": "go to ER"}},
			"home": map[string]any{"type": "action", "label": "Home", "action": map[string]any{"recommendation": "home care"}},
		},
		"variables": []map[string]any{{"name": "temp", "type": "numeric"}},
	}
	if _, ok := sendRequest("POST", "/trees", tree, http.StatusCreated); !ok {
		fmt.Println("FAILED: Create tree")
		os.Exit(1)
	}
	fmt.Println("PASSED: Create tree")

	// 2. Add test cases
	fmt.Println("2. Adding test cases...")
	cases := []map[string]any{
		{"id": "hot", "input_values": map[string]any{"temp": 39.5}, "expected_outcome": "go to ER"},
		{"id": "cool", "input_values": map[string]any{"temp": 36.8}, "expected_outcome": "home care"},
	}
	if _, ok := sendRequest("POST", "/trees/"+treeID+"/tests", cases, http.StatusCreated); !ok {
		fmt.Println("FAILED: Add test cases")
		os.Exit(1)
	}
	fmt.Println("PASSED: Add test cases")

	// 3. Run suite
	fmt.Println("3. Running suite...")
	body, ok := sendRequest("POST", "/trees/"+treeID+"/run", nil, http.StatusOK)
	if !ok {
		fmt.Println("FAILED: Run suite")
		os.Exit(1)
	}
	var suite struct {
		ID     string `json:"id"`
		Total  int    `json:"total"`
		Failed int    `json:"failed"`
	}
	if err := json.Unmarshal(body, &suite); err != nil || suite.Failed != 0 || suite.Total != len(cases) {
		fmt.Printf("FAILED: Run suite (total=%d failed=%d err=%v)\n", suite.Total, suite.Failed, err)
		os.Exit(1)
	}
	fmt.Println("PASSED: Run suite")

	// 4. Fetch stored results
	fmt.Println("4. Fetching results...")
	if _, ok := sendRequest("GET", "/test-results/"+suite.ID, nil, http.StatusOK); !ok {
		fmt.Println("FAILED: Fetch results")
		os.Exit(1)
	}
	fmt.Println("PASSED: Fetch results")

	// 5. Clean up
	if _, ok := sendRequest("DELETE", "/trees/"+treeID, nil, http.StatusNoContent); !ok {
		fmt.Println("FAILED: Delete tree")
		os.Exit(1)
	}
	fmt.Println("PASSED: Delete tree")
}

func sendRequest(method, endpoint string, payload any, want int) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("CAIRE_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}
	fmt.Printf("Response: %s\n", string(respBody))

	return respBody, true
}
