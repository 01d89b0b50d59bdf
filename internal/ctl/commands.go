package ctl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Command sends one operator command and prints the daemon's reply. A
// rejected command is returned as an error after the reply is shown.
func Command(baseURL, cmdType string, params map[string]any, jsonOutput bool) error {
	r, err := sendCommand(baseURL, cmdType, params)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := printJSON(r); err != nil {
			return err
		}
		if !r.OK() {
			return fmt.Errorf("%s rejected", cmdType)
		}
		return nil
	}

	fmt.Println()
	if !r.OK() {
		fmt.Printf("  %s  %s: %s\n", colorize(red, "REJECTED"), cmdType, r.Detail)
		printReplyData(r.Data)
		fmt.Println()
		return fmt.Errorf("%s rejected", cmdType)
	}
	fmt.Printf("  %s  %s\n", colorize(green, "OK"), cmdType)
	printReplyData(r.Data)
	fmt.Println()
	return nil
}

// printReplyData shows flat reply data as key: value lines and anything
// nested as indented JSON.
func printReplyData(data json.RawMessage) {
	if len(data) == 0 || string(data) == "null" {
		return
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err == nil {
		nested := false
		for _, v := range flat {
			switch v.(type) {
			case map[string]any, []any:
				nested = true
			}
		}
		if !nested {
			for k, v := range flat {
				fmt.Printf("    %-18s %v\n", colorize(dim, k+":"), v)
			}
			return
		}
	}
	var v any
	_ = json.Unmarshal(data, &v)
	pretty, _ := json.MarshalIndent(v, "    ", "  ")
	fmt.Printf("    %s\n", pretty)
}

// Takeoff sends a manual takeoff. An empty altitude lets the daemon pick its
// default.
func Takeoff(baseURL, altitude string, jsonOutput bool) error {
	params := map[string]any{}
	if altitude != "" {
		alt, err := strconv.ParseFloat(altitude, 64)
		if err != nil {
			return fmt.Errorf("altitude %q is not a number", altitude)
		}
		params["altitude"] = alt
	}
	return Command(baseURL, "takeoff", params, jsonOutput)
}

// Respond answers an open battery emergency prompt.
func Respond(baseURL, promptID, choice string, jsonOutput bool) error {
	choice = strings.ToUpper(choice)
	if choice != "RTL" && choice != "LAND" {
		return fmt.Errorf("choice must be RTL or LAND, got %q", choice)
	}
	return Command(baseURL, "battery_emergency_response", map[string]any{
		"prompt_id": promptID,
		"choice":    choice,
	}, jsonOutput)
}

// Override turns the manual override on or off.
func Override(baseURL, onOff string, jsonOutput bool) error {
	var enabled bool
	switch strings.ToLower(onOff) {
	case "on", "true", "1":
		enabled = true
	case "off", "false", "0":
	default:
		return fmt.Errorf("override takes on or off, got %q", onOff)
	}
	return Command(baseURL, "set_override", map[string]any{"enabled": enabled}, jsonOutput)
}
