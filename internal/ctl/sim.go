package ctl

import (
	"fmt"
	"net/http"
)

// SimFault injects a fault into the daemon's simulated vehicle.
func SimFault(baseURL, kind, value string, jsonOutput bool) error {
	var resp struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	body := map[string]string{"kind": kind, "value": value}
	if err := postJSON(baseURL, "/api/sim/fault", body, &resp, http.StatusOK, http.StatusBadRequest, http.StatusConflict); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	if resp.OK {
		fmt.Printf("  %s  %s\n", colorize(yellow, "INJECTED"), resp.Message)
	} else {
		fmt.Printf("  %s  %s\n", colorize(red, "FAILED"), resp.Error)
	}
	fmt.Println()
	if !resp.OK {
		return fmt.Errorf("fault %s not injected", kind)
	}
	return nil
}
