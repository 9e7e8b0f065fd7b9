// Command posturelink-cli talks to a running posturelink daemon over its
// local HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := resolveAddr()

	switch os.Args[1] {
	case "status":
		statusCmd(client, base)
	case "pause":
		post(client, base, "/api/pause", nil)
	case "resume":
		post(client, base, "/api/resume", nil)
	case "thresholds":
		thresholdsCmd(client, base, os.Args[2:])
	case "sustain":
		sustainCmd(client, base, os.Args[2:])
	case "alarm":
		alarmCmd(client, base, os.Args[2:])
	case "finalize":
		post(client, base, "/api/session/finalize", nil)
	case "connect":
		post(client, base, "/api/connect", nil)
	case "disconnect":
		post(client, base, "/api/disconnect", nil)
	default:
		usage()
		os.Exit(2)
	}
}

func statusCmd(client *http.Client, base string) {
	resp, err := client.Get(base + "/api/status")
	if err != nil {
		fatal("status", err)
	}
	defer resp.Body.Close()
	printBody(resp.Body)
}

func thresholdsCmd(client *http.Client, base string, args []string) {
	if len(args) != 2 {
		fatal("thresholds", fmt.Errorf("usage: thresholds <green_mm> <red_mm>"))
	}
	green, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("thresholds", fmt.Errorf("green threshold must be a number"))
	}
	red, err := strconv.Atoi(args[1])
	if err != nil {
		fatal("thresholds", fmt.Errorf("red threshold must be a number"))
	}
	body, _ := json.Marshal(map[string]int{"green_mm": green, "red_mm": red})
	post(client, base, "/api/thresholds", body)
}

func sustainCmd(client *http.Client, base string, args []string) {
	if len(args) != 1 {
		fatal("sustain", fmt.Errorf("usage: sustain <milliseconds>"))
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("sustain", fmt.Errorf("sustain time must be a number of milliseconds"))
	}
	body, _ := json.Marshal(map[string]int{"sustain_ms": ms})
	post(client, base, "/api/sustain", body)
}

func alarmCmd(client *http.Client, base string, args []string) {
	if len(args) != 1 {
		fatal("alarm", fmt.Errorf("usage: alarm on|off"))
	}
	var on bool
	switch args[0] {
	case "on":
		on = true
	case "off":
		on = false
	default:
		fatal("alarm", fmt.Errorf("usage: alarm on|off"))
	}
	post(client, base, fmt.Sprintf("/api/alarm?on=%t", on), nil)
}

func post(client *http.Client, base, path string, body []byte) {
	resp, err := client.Post(base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		fatal(path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fatal(path, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data)))
	}
	printBody(resp.Body)
}

func printBody(r io.Reader) {
	data, err := io.ReadAll(r)
	if err != nil {
		fatal("read response", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		return
	}
	pretty.WriteByte('\n')
	os.Stdout.Write(pretty.Bytes())
}

func resolveAddr() string {
	if addr := os.Getenv("POSTURELINK_HTTP_ADDR"); addr != "" {
		return "http://" + addr
	}
	return "http://127.0.0.1:8080"
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: posturelink-cli <command>

commands:
  status                       show connection, posture and session state
  pause                        pause the active session
  resume                       resume a paused session
  thresholds <green> <red>     set warning zone boundaries (mm)
  sustain <milliseconds>       set how long bad posture persists before alerting
  alarm on|off                 toggle the audible device alarm
  finalize                     end the session and store its record
  connect                      connect to the default device
  disconnect                   disconnect and stop auto-reconnect`)
}
