// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	addr := strings.TrimSpace(os.Getenv("ADDR"))
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	slack := strings.TrimSpace(os.Getenv("SLACK_WEBHOOK"))
	allowed := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (session control routes will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (snapshot/event routes will 401).")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if addr == "" {
		warn("ADDR is empty; the API defaults to 127.0.0.1:8080.")
	} else {
		ok("ADDR=" + addr)
	}

	if db == "" {
		warn("DATABASE_URL empty — probe results and alert state live in memory only.")
	} else if !strings.HasPrefix(db, "postgres://") && !strings.HasPrefix(db, "postgresql://") {
		warn("DATABASE_URL does not look like a postgres DSN.")
	} else {
		ok("DATABASE_URL present")
	}

	if slack == "" {
		warn("SLACK_WEBHOOK empty — loss alerts are disabled.")
	} else if !strings.HasPrefix(slack, "https://") {
		warn("SLACK_WEBHOOK is not https.")
	} else {
		ok("SLACK_WEBHOOK present")
	}

	if allowed == "" {
		warn("ALLOWED_ORIGINS empty — CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + allowed)
	}

	// Numeric knobs must parse if set; a typo here silently falls back to the
	// default at runtime.
	for _, name := range []string{
		"PROBE_INTERVAL_MS", "PROBE_TIMEOUT_MS", "MAX_CONCURRENT_PROBES",
		"STATS_WINDOW", "RESOLVE_FAIL_THRESHOLD",
		"PUBLIC_RPM", "PUBLIC_BURST", "ADMIN_RPM", "ADMIN_BURST",
		"ALERT_COOLDOWN_MS", "ALERT_POLL_MS",
	} {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			fail(name + "=" + v + " is not a positive integer.")
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOSS_ALERT_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			fail("LOSS_ALERT_THRESHOLD=" + v + " must be in (0, 1].")
		}
	}

	ok("preflight passed")
}
