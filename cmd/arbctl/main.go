// Arbctl is the command-line client for monitoring and controlling a running
// arbiterd instance. It connects over HTTP and WebSocket to query status,
// send operator commands and stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/flight-arbiter/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Arbiter daemon URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,failsafe)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]
	arg := func(i int) string {
		if i < len(subArgs) {
			return subArgs[i]
		}
		return ""
	}
	need := func(n int, form string) {
		if len(subArgs) < n {
			fmt.Fprintln(os.Stderr, "usage: arbctl "+form)
			os.Exit(2)
		}
	}

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "summaries":
		sumFlags := pflag.NewFlagSet("summaries", pflag.ContinueOnError)
		limit := sumFlags.Int("limit", 0, "Limit number of summaries shown")
		_ = sumFlags.Parse(subArgs)
		err = ctl.Summaries(*host, *limit, *jsonOut)

	// ── Vehicle commands ──────────────────────────────────────────
	case "connect", "disconnect", "arm", "disarm", "land", "rtl":
		err = ctl.Command(*host, cmd, nil, *jsonOut)

	case "cancel-takeoff":
		err = ctl.Command(*host, "cancel_takeoff", nil, *jsonOut)

	case "takeoff":
		err = ctl.Takeoff(*host, arg(0), *jsonOut)

	case "respond":
		need(2, "respond <prompt-id> <RTL|LAND>")
		err = ctl.Respond(*host, arg(0), arg(1), *jsonOut)

	case "override":
		need(1, "override on|off")
		err = ctl.Override(*host, arg(0), *jsonOut)

	// ── Missions ──────────────────────────────────────────────────
	case "mission":
		need(1, "mission run|validate|stop|status")
		mFlags := pflag.NewFlagSet("mission", pflag.ContinueOnError)
		opts := ctl.MissionOptions{JSON: *jsonOut}
		mFlags.StringVar(&opts.Name, "name", "", "Mission name (overrides the plan's name)")
		_ = mFlags.Parse(subArgs[1:])
		switch sub := subArgs[0]; sub {
		case "run", "validate":
			if mFlags.NArg() < 1 {
				fmt.Fprintf(os.Stderr, "usage: arbctl mission %s <plan.yaml>\n", sub)
				os.Exit(2)
			}
			opts.PlanPath = mFlags.Arg(0)
			if sub == "run" {
				err = ctl.MissionRun(*host, opts)
			} else {
				err = ctl.MissionValidate(*host, opts)
			}
		case "stop":
			err = ctl.Command(*host, "stop_waypoint_mission", nil, *jsonOut)
		case "status":
			err = ctl.Command(*host, "waypoint_mission_status", nil, *jsonOut)
		default:
			usage()
			os.Exit(2)
		}

	// ── Simulator ─────────────────────────────────────────────────
	case "sim":
		need(2, "sim fault <kind> [value]")
		if subArgs[0] != "fault" {
			usage()
			os.Exit(2)
		}
		err = ctl.SimFault(*host, arg(1), arg(2), *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  arbctl: flight arbiter control CLI

  USAGE
    arbctl [flags] <command> [args] [command-flags]

  COMMANDS (query)
    status                   Show link, vehicle, mission and arbiter state
    health                   Check daemon and component health
    version                  Show CLI and daemon version information
    config                   Show the daemon's running configuration
    summaries                List recent mission summaries

  COMMANDS (vehicle)
    connect | disconnect     Open or close the vehicle link
    arm | disarm             Arm or disarm the motors
    takeoff [ALT]            Take off to ALT meters (daemon default if omitted)
    land | rtl               Land in place or return to launch
    cancel-takeoff           Abort a takeoff in progress
    respond ID RTL|LAND      Answer a battery emergency prompt
    override on|off          Toggle manual override of automatic actions

  COMMANDS (mission)
    mission run PLAN         Fly a YAML waypoint plan
    mission validate PLAN    Check a plan without flying it
    mission stop             Stop the active mission and return home
    mission status           Show the active mission

  COMMANDS (simulator)
    sim fault KIND [VALUE]   Inject battery, gps_loss, gps_restore,
                             link_drop, mode or reject

  COMMANDS (live)
    watch                    Stream live events (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    summaries:
        --limit N           Limit number of summaries shown
    mission run:
        --name NAME         Override the plan's mission name

  EXAMPLES
    arbctl status
    arbctl --json status
    arbctl --host http://192.168.8.1:8080 watch
    arbctl mission validate survey.yaml
    arbctl mission run survey.yaml --name north-field
    arbctl respond battery_emergency_3f2a RTL
    arbctl sim fault battery 22
    arbctl watch --filter state,arbiter,failsafe

`)
}
