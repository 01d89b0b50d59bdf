package ctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Flight commands wait on the vehicle, so the client allows longer than the
// daemon's command timeout.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// Reply mirrors the daemon's answer to an operator command.
type Reply struct {
	Status string          `json:"status"`
	ID     string          `json:"id,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (r Reply) OK() bool { return r.Status == "ok" }

// getJSON sends a GET request and decodes the JSON response into dst.
func getJSON(baseURL, path string, dst any) error {
	url := strings.TrimRight(baseURL, "/") + path
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, dst, http.StatusOK)
}

// getHealth asks for the detailed health report. A 503 still carries the
// report, so both codes decode.
func getHealth(baseURL string, dst any) (int, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(baseURL, "/")+"/healthz", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeJSON(resp, dst, http.StatusOK, http.StatusServiceUnavailable)
}

// postJSON sends a POST request with a JSON body and decodes the response.
// ok lists the status codes whose bodies are decoded into dst; anything else
// is an error carrying the body text.
func postJSON(baseURL, path string, body, dst any, ok ...int) error {
	url := strings.TrimRight(baseURL, "/") + path
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	resp, err := httpClient.Post(url, "application/json", reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	return decodeJSON(resp, dst, ok...)
}

// sendCommand posts one operator command envelope. Every call carries a
// fresh request id so a retried HTTP request is not acted on twice.
func sendCommand(baseURL, cmdType string, params map[string]any) (Reply, error) {
	env := map[string]any{}
	for k, v := range params {
		env[k] = v
	}
	env["type"] = cmdType
	env["id"] = uuid.NewString()

	var r Reply
	err := postJSON(baseURL, "/api/command", env, &r, http.StatusOK, http.StatusUnprocessableEntity)
	return r, err
}

// decodeJSON decodes a JSON response body into dst when the status code is
// one of ok, and otherwise returns an error with the body text.
func decodeJSON(resp *http.Response, dst any, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return json.NewDecoder(resp.Body).Decode(dst)
		}
	}
	b, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(b))
	if msg != "" {
		return fmt.Errorf("HTTP %s: %s", resp.Status, msg)
	}
	return fmt.Errorf("HTTP %s", resp.Status)
}

// printJSON prints v as indented JSON to stdout.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
