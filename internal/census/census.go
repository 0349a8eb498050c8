// Package census counts established TCP connections to chat servers at the
// process level. Comparing the system-wide count against the connections this
// process opened itself tells us whether a real external viewer is attached
// to a broadcast.
package census

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/metrics"
)

// ConnectionCounter tracks established connections per chat-server endpoint.
// External counts come from the OS via Refresh; internal counts are reported
// through ConnectionOpened/ConnectionClosed by our own transports.
type ConnectionCounter struct {
	logger *slog.Logger

	// runCommand is swappable in tests.
	runCommand func(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error)

	mu       sync.Mutex
	external map[domain.AddressPort]int
	internal map[domain.AddressPort]int
}

func NewConnectionCounter(logger *slog.Logger) *ConnectionCounter {
	return &ConnectionCounter{
		logger:     logger,
		runCommand: startCommand,
		external:   make(map[domain.AddressPort]int),
		internal:   make(map[domain.AddressPort]int),
	}
}

// ConnectionOpened records one connection this process opened itself.
func (cc *ConnectionCounter) ConnectionOpened(ep domain.AddressPort) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.internal[ep]++
}

// ConnectionClosed undoes a prior ConnectionOpened.
func (cc *ConnectionCounter) ConnectionClosed(ep domain.AddressPort) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.internal[ep] > 0 {
		cc.internal[ep]--
	}
}

// Count answers how many external connections exist to the endpoint.
// Never negative, regardless of skew between the census and our own tracking.
func (cc *ConnectionCounter) Count(ep domain.AddressPort) int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	n := cc.external[ep] - cc.internal[ep]
	if n < 0 {
		return 0
	}
	return n
}

// Refresh re-runs the system connection listing. A failed refresh keeps the
// previous snapshot; callers just try again next cycle.
func (cc *ConnectionCounter) Refresh(ctx context.Context) error {
	counts, err := cc.collect(ctx, "ss", "-tan")
	if err != nil {
		counts, err = cc.collect(ctx, "netstat", "-an")
	}
	if err != nil {
		metrics.CensusRefreshFailures.Inc()
		cc.logger.Warn("connection census failed", "error", err)
		return errors.InternalError("connection census failed", err)
	}

	cc.mu.Lock()
	cc.external = counts
	cc.mu.Unlock()
	return nil
}

func (cc *ConnectionCounter) collect(ctx context.Context, name string, args ...string) (map[domain.AddressPort]int, error) {
	out, wait, err := cc.runCommand(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	// Stream the output as it is produced instead of buffering the whole
	// table; connection listings can be large on busy hosts.
	counts := parseListing(out)
	if wait != nil {
		wait()
	}
	return counts, nil
}

// parseListing reads `ss -tan` or `netstat -an` output and counts
// established connections per remote endpoint.
func parseListing(r io.Reader) map[domain.AddressPort]int {
	counts := make(map[domain.AddressPort]int)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ep, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		counts[ep]++
	}
	return counts
}

// parseLine extracts the remote endpoint of one established connection.
//
//	ss:      ESTAB  0  0  192.168.0.5:51234  203.0.113.9:2805
//	netstat: tcp    0  0  192.168.0.5:51234  203.0.113.9:2805  ESTABLISHED
func parseLine(line string) (domain.AddressPort, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return domain.AddressPort{}, false
	}

	var remote string
	switch {
	case fields[0] == "ESTAB":
		remote = fields[4]
	case strings.HasPrefix(fields[0], "tcp") && len(fields) >= 6 && fields[5] == "ESTABLISHED":
		remote = fields[4]
	default:
		return domain.AddressPort{}, false
	}
	return splitEndpoint(remote)
}

// splitEndpoint splits "addr:port", tolerating bracketed IPv6 literals and
// netstat's "addr.port" form.
func splitEndpoint(s string) (domain.AddressPort, bool) {
	sep := strings.LastIndexByte(s, ':')
	if sep < 0 {
		sep = strings.LastIndexByte(s, '.')
	}
	if sep <= 0 || sep == len(s)-1 {
		return domain.AddressPort{}, false
	}

	addr := strings.Trim(s[:sep], "[]")
	port, err := strconv.Atoi(s[sep+1:])
	if err != nil || port <= 0 {
		return domain.AddressPort{}, false
	}
	return domain.AddressPort{Address: addr, Port: port}, true
}

func startCommand(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return out, cmd.Wait, nil
}
