package ctl

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, u.String()))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(rule(50))
		fmt.Println()
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			// Apply event type filter.
			if len(filterSet) > 0 {
				var ev map[string]any
				if err := json.Unmarshal(msg, &ev); err == nil {
					evType, _ := ev["type"].(string)
					if !filterSet[evType] {
						continue
					}
				}
			}

			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				renderEvent(msg)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to raw JSON for unrecognized event types.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Printf("  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := formatEventTime(ev)
	str := func(k string) string { s, _ := ev[k].(string); return s }
	num := func(k string) float64 { f, _ := ev[k].(float64); return f }

	switch evType {
	case "heartbeat":
		// Heartbeats are noisy, so they stay on one dimmed line.
		uptimeStr := formatDuration(time.Duration(num("uptime_seconds")) * time.Second)
		fmt.Printf("  %s %s  %s  %s  link %s  up %s\n",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(stateColor(str("state")), str("state")),
			colorize(stateColor(str("arbiter")), str("arbiter")),
			colorize(stateColor(str("link")), str("link")),
			colorize(dim, uptimeStr),
		)

	case "state", "arbiter":
		from, to := str("from"), str("to")
		label := "STATE"
		if str("component") == "arbiter" || evType == "arbiter" {
			label = "ARBITER"
		}
		reason := ""
		if r := str("reason"); r != "" {
			reason = colorize(dim, "  "+r)
		}
		fmt.Printf("  %s %s  %s %s %s%s\n",
			colorize(dim, ts),
			colorize(bold, padRight(label, 7)),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
			reason,
		)

	case "telemetry":
		snap, _ := ev["snapshot"].(map[string]any)
		bat, _ := snap["battery_level"].(float64)
		alt, _ := snap["alt_rel"].(float64)
		gs, _ := snap["groundspeed"].(float64)
		mode, _ := snap["mode"].(string)
		fmt.Printf("  %s %s  [%s] %3.0f%%  alt %5.1fm  gs %4.1fm/s  %s\n",
			colorize(dim, ts),
			colorize(dim, "telemetry"),
			batteryBar(bat, 10, 25),
			bat,
			alt,
			gs,
			colorize(dim, mode),
		)

	case "failsafe":
		state := colorize(red, "RAISED ")
		if cleared, _ := ev["cleared"].(bool); cleared {
			state = colorize(green, "CLEARED")
		}
		fmt.Printf("  %s %s  %s %s %s\n",
			colorize(dim, ts), colorize(bold, "FAILSAFE"), state, str("kind"), colorize(dim, str("severity")))

	case "waypoint_reached":
		fmt.Printf("  %s %s  #%d at %.6f, %.6f  %s\n",
			colorize(dim, ts),
			colorize(green, "WAYPOINT"),
			int(num("order")),
			num("lat"),
			num("lon"),
			colorize(dim, fmt.Sprintf("%d remaining", int(num("remaining")))),
		)

	case "battery_emergency":
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(dim, ts), colorize(red, header("BATTERY EMERGENCY")))
		fmt.Printf("    %-16s %s\n", colorize(dim, "Prompt:"), colorize(bold, str("prompt_id")))
		fmt.Printf("    %-16s %.0f%%\n", colorize(dim, "Battery:"), num("battery_level"))
		if d, ok := ev["distance_to_home"].(float64); ok {
			fmt.Printf("    %-16s %s\n", colorize(dim, "To home:"), formatDistance(d))
		}
		fmt.Printf("    %-16s %s  %s\n", colorize(dim, "Recommended:"), colorize(bold, str("recommendation")), colorize(dim, str("reason")))
		fmt.Printf("    %-16s %.0fs, then the recommendation runs\n", colorize(dim, "Window:"), num("timeout_seconds"))
		fmt.Printf("    %s\n", colorize(dim, "arbctl respond "+str("prompt_id")+" RTL|LAND"))
		fmt.Println()

	case "battery_emergency_countdown":
		fmt.Printf("  %s %s  %s  %.0fs\n",
			colorize(dim, ts), colorize(yellow, "countdown"), colorize(dim, str("prompt_id")), num("remaining_seconds"))

	case "battery_emergency_action":
		fmt.Printf("  %s %s  %s %s\n",
			colorize(dim, ts), colorize(bold, "ACTION "), colorize(yellow, str("action")), colorize(dim, str("prompt_id")))

	case "actuation_failure":
		fallback := ""
		if f := str("fallback"); f != "" {
			fallback = colorize(yellow, "  fallback "+f)
		}
		fmt.Printf("  %s %s  %s %s%s\n",
			colorize(dim, ts), colorize(red, "ACTUATION FAILED"), str("command"), colorize(dim, str("detail")), fallback)

	case "link":
		state := "down"
		if up, _ := ev["connected"].(bool); up {
			state = "up"
		}
		fmt.Printf("  %s %s  %s %s\n",
			colorize(dim, ts), colorize(bold, "LINK   "), colorize(stateColor(state), state), colorize(dim, str("detail")))

	case "mission_summary":
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(dim, ts), header("MISSION SUMMARY"))
		printSummaryEvent(ev)
		fmt.Println()

	case "log":
		src := ""
		if c := str("component"); c != "" {
			src = colorize(dim, "["+c+"] ")
		}
		fmt.Printf("  %s %s  %s%s\n", colorize(dim, ts), formatLogLevel(str("level")), src, str("message"))

	default:
		// Unknown event type; dump as indented JSON so nothing is lost.
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Printf("  %s\n", string(raw))
			return
		}
		fmt.Printf("  %s\n", string(pretty))
	}
}

// printSummaryEvent renders a mission_summary event; the summary fields sit
// at the top level next to type and ts.
func printSummaryEvent(sum map[string]any) {
	get := func(k string) any { return sum[k] }
	fmt.Printf("    %-16s %v\n", colorize(dim, "Mission:"), get("mission_id"))
	fmt.Printf("    %-16s %v %s\n", colorize(dim, "Outcome:"), get("outcome"), colorize(dim, fmt.Sprint(get("reason"))))
	fmt.Printf("    %-16s %v of %v\n", colorize(dim, "Waypoints:"), get("waypoints_visited"), get("waypoints_total"))
	if d, ok := sum["duration_seconds"].(float64); ok {
		fmt.Printf("    %-16s %s\n", colorize(dim, "Duration:"), formatDuration(time.Duration(d*float64(time.Second))))
	}
	if b, ok := sum["min_battery_observed"].(float64); ok {
		fmt.Printf("    %-16s %.0f%%\n", colorize(dim, "Min battery:"), b)
	}
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "          "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return tsRaw[:10]
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return colorize(dim, "DEBUG")
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
