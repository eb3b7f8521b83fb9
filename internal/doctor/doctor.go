// Package doctor checks that a groupforge installation can reach everything
// it depends on: the data directory, the ledger, owner sessions and the
// optional event sinks.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/slack-go/slack"

	"github.com/KafClaw/groupforge/internal/config"
	"github.com/KafClaw/groupforge/internal/ledger"
)

// PairChecker reports whether an owner has a linked device.
// *messaging.Sessions implements it.
type PairChecker interface {
	Paired(ctx context.Context, owner string) (bool, error)
}

// Options configures a scan.
type Options struct {
	Config   *config.Config
	Sessions PairChecker
	Timeout  time.Duration // per network check
	// SlackOptions are passed to the Slack client; tests point it at a fake API.
	SlackOptions []slack.Option
}

// Run executes every check and returns the report.
func Run(ctx context.Context, opts Options) *Report {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	cfg := opts.Config
	r := &Report{StartedAt: time.Now()}

	checkDataDir(r, cfg.Paths.DataDir)
	checkLedger(r, cfg.Paths.LedgerPath())
	if opts.Sessions != nil {
		checkSessions(ctx, r, opts.Sessions, cfg.WhatsApp.Owners)
	}

	brokers := cfg.Events.Brokers()
	if len(brokers) == 0 {
		r.add(Row{"kafka", "-", L7, SKIP, "No brokers configured", ""})
	}
	for _, b := range brokers {
		checkKafka(ctx, r, b, cfg.Events.KafkaTopic, opts.Timeout)
	}

	if cfg.Events.RedisAddr == "" {
		r.add(Row{"redis", "-", L7, SKIP, "No address configured", ""})
	} else {
		checkRedis(ctx, r, cfg.Events.RedisAddr, opts.Timeout)
	}

	if cfg.Events.SlackToken == "" {
		r.add(Row{"slack", "-", L7, SKIP, "No token configured", ""})
	} else {
		checkSlack(ctx, r, cfg.Events.SlackToken, cfg.Events.SlackChannel, opts.Timeout, opts.SlackOptions)
	}

	r.FinishedAt = time.Now()
	r.summarize()
	return r
}

func checkDataDir(r *Report, dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		r.add(Row{"data", dir, Storage, FAIL, fmt.Sprintf("Cannot create: %v", err), "Set paths.dataDir to a writable directory."})
		return
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		r.add(Row{"data", dir, Storage, FAIL, fmt.Sprintf("Not writable: %v", err), "Check directory ownership and permissions."})
		return
	}
	probe.Close()
	os.Remove(probe.Name())
	r.add(Row{"data", dir, Storage, OK, "Writable", ""})
}

func checkLedger(r *Report, path string) {
	led, err := ledger.Open(path)
	if err != nil {
		r.add(Row{"ledger", filepath.Base(path), Storage, FAIL, err.Error(), "Another tool may hold the database; check file permissions."})
		return
	}
	defer led.Close()
	snap, err := led.Snapshot()
	if err != nil {
		r.add(Row{"ledger", filepath.Base(path), Storage, FAIL, fmt.Sprintf("Read failed: %v", err), ""})
		return
	}
	groups := 0
	for _, g := range snap {
		groups += len(g)
	}
	r.add(Row{"ledger", filepath.Base(path), Storage, OK, fmt.Sprintf("%d owners, %d created groups", len(snap), groups), ""})
}

func checkSessions(ctx context.Context, r *Report, sessions PairChecker, owners []string) {
	if len(owners) == 0 {
		r.add(Row{"whatsapp", "-", Session, WARN, "No owners configured", "List owners in whatsapp.owners."})
		return
	}
	for _, owner := range owners {
		paired, err := sessions.Paired(ctx, owner)
		switch {
		case err != nil:
			r.add(Row{"whatsapp", owner, Session, FAIL, err.Error(), ""})
		case !paired:
			r.add(Row{"whatsapp", owner, Session, WARN, "Not paired", fmt.Sprintf("Run 'groupforge pair --owner %s'.", owner)})
		default:
			r.add(Row{"whatsapp", owner, Session, OK, "Device linked", ""})
		}
	}
}

func checkDNS(r *Report, host, component string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if _, err := net.LookupHost(host); err != nil {
		r.add(Row{component, host, L3, FAIL, fmt.Sprintf("DNS lookup failed: %v", err),
			"Check /etc/hosts, DNS server, split-horizon/VPN search domains."})
		return false
	}
	r.add(Row{component, host, L3, OK, "Resolved host", ""})
	return true
}

func checkTCP(r *Report, addr, component string, timeout time.Duration) bool {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		r.add(Row{component, addr, L4, FAIL, fmt.Sprintf("TCP connect failed: %v", err),
			"Firewall, security groups, or the service is not listening."})
		return false
	}
	conn.Close()
	r.add(Row{component, addr, L4, OK, fmt.Sprintf("Connected in %s", time.Since(start).Truncate(time.Millisecond)), ""})
	return true
}

func checkKafka(ctx context.Context, r *Report, broker, topic string, timeout time.Duration) {
	host, _, err := net.SplitHostPort(broker)
	if err != nil {
		r.add(Row{"kafka", broker, L3, FAIL, fmt.Sprintf("Invalid broker address: %v", err), "Use host:port."})
		return
	}
	if !checkDNS(r, host, "kafka") || !checkTCP(r, broker, "kafka", timeout) {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := kafka.DialContext(dctx, "tcp", broker)
	if err != nil {
		r.add(Row{"kafka", broker, L7, FAIL, fmt.Sprintf("Broker dial failed: %v", err), "Auth/TLS mismatch or listener not exposed."})
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.ApiVersions(); err != nil {
		r.add(Row{"kafka", broker, L7, FAIL, fmt.Sprintf("ApiVersions failed: %v", err), "Broker incompatible or proxy interfering."})
		return
	}
	r.add(Row{"kafka", broker, L7, OK, "ApiVersions OK", ""})

	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		r.add(Row{"kafka", topic, L7, WARN, fmt.Sprintf("Topic not readable: %v", err), "Create the topic or enable auto-creation."})
		return
	}
	r.add(Row{"kafka", topic, L7, OK, fmt.Sprintf("Topic visible; partitions=%d", len(parts)), ""})
}

func checkRedis(ctx context.Context, r *Report, addr string, timeout time.Duration) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
	defer client.Close()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		r.add(Row{"redis", addr, L7, FAIL, fmt.Sprintf("PING failed: %v", err), "Check events.redisAddr and that Redis accepts connections."})
		return
	}
	r.add(Row{"redis", addr, L7, OK, "PING OK", ""})
}

func checkSlack(ctx context.Context, r *Report, token, channel string, timeout time.Duration, opts []slack.Option) {
	api := slack.New(token, opts...)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	auth, err := api.AuthTestContext(sctx)
	if err != nil {
		hint := "Check events.slackToken."
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) {
			hint = "Rate limited; retry later."
		}
		r.add(Row{"slack", "auth.test", L7, FAIL, err.Error(), hint})
		return
	}
	detail := fmt.Sprintf("Authenticated as %s in %s", auth.User, auth.Team)
	if strings.TrimSpace(channel) == "" {
		r.add(Row{"slack", "auth.test", L7, WARN, detail, "Set events.slackChannel to receive batch summaries."})
		return
	}
	r.add(Row{"slack", channel, L7, OK, detail, ""})
}
