package ctl

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Health fetches the detailed component checks from GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var report struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	code, err := getHealth(baseURL, &report)
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Println()
	if report.Healthy {
		fmt.Printf("  %s  arbiterd is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  arbiterd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), code, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := report.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		detail := ""
		if e, _ := c["error"].(string); e != "" {
			detail = e
		} else if p, _ := c["path"].(string); p != "" {
			detail = p
		}
		fmt.Printf("    %s  %s %s\n", mark, padRight(name, 12), colorize(dim, detail))
	}
	fmt.Println()

	if code != http.StatusOK {
		return fmt.Errorf("unhealthy")
	}
	return nil
}
