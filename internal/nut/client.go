// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package nut implements a minimal client for the NUT network protocol
// spoken by upsd. Two operations cover everything the core needs: Ping,
// the lightweight reachability query used by the health monitor, the
// indirect driver probe, and the netclient startup override; and Fetch,
// the full variable dump the polling loop persists as a snapshot.
package nut

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/nutward/nutward/internal/metrics"
)

// ErrConnection marks failures to reach or converse with upsd at the
// transport level (dial, read, deadline). The polling loop classifies
// these separately from protocol-level errors.
var ErrConnection = errors.New("nut: connection failed")

// ProtocolError is an ERR response from upsd, e.g. UNKNOWN-UPS or
// DRIVER-NOT-CONNECTED. The transport worked; the query did not.
type ProtocolError struct {
	Code string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("nut: upsd answered ERR %s", e.Code)
}

// IsConnectionError reports whether err is transport-level rather than a
// protocol-level refusal.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Snapshot is one full reading of the UPS state at a point in time.
type Snapshot struct {
	ID      string            `json:"id,omitempty"`
	UPS     string            `json:"ups"`
	TakenAt time.Time         `json:"taken_at"`
	Vars    map[string]string `json:"vars"`
}

// Querier is the device-query primitive shared by the health monitor,
// the polling loop, the indirect probe, and the supervisor's netclient
// override.
type Querier interface {
	// Ping performs a lightweight query and returns nil iff the UPS is
	// reachable through the daemon chain.
	Ping(ctx context.Context) error

	// Fetch returns a full variable snapshot.
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Client talks to a single upsd instance about a single UPS.
type Client struct {
	addr    string
	ups     string
	timeout time.Duration
}

// NewClient creates a Client for the given upsd address ("host:port"),
// UPS name, and per-query timeout.
func NewClient(addr, ups string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{addr: addr, ups: ups, timeout: timeout}
}

// Addr returns the upsd dial target, for logging.
func (c *Client) Addr() string { return c.addr }

// Ping asks upsd for ups.status. Any valid VAR answer proves the chain
// is alive end to end (upsd reachable and the driver feeding it data).
func (c *Client) Ping(ctx context.Context) error {
	defer metrics.ObserveDeviceQuery("ping", time.Now())

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	line, err := c.roundTrip(conn, fmt.Sprintf("GET VAR %s ups.status", c.ups))
	if err != nil {
		return err
	}
	if _, _, err := parseVarLine(line, c.ups); err != nil {
		return err
	}
	return nil
}

// Fetch retrieves the full variable list for the UPS.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	defer metrics.ObserveDeviceQuery("fetch", time.Now())

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "LIST VAR %s\n", c.ups); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrConnection, err)
	}

	snap := &Snapshot{
		UPS:     c.ups,
		TakenAt: time.Now().UTC(),
		Vars:    make(map[string]string),
	}

	scanner := bufio.NewScanner(conn)
	began := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "ERR "):
			return nil, &ProtocolError{Code: strings.TrimPrefix(line, "ERR ")}
		case strings.HasPrefix(line, "BEGIN LIST VAR"):
			began = true
		case strings.HasPrefix(line, "END LIST VAR"):
			if !began {
				return nil, &ProtocolError{Code: "UNEXPECTED-END"}
			}
			return snap, nil
		case strings.HasPrefix(line, "VAR "):
			name, value, err := parseVarLine(line, c.ups)
			if err != nil {
				return nil, err
			}
			snap.Vars[name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrConnection, err)
	}
	return nil, fmt.Errorf("%w: connection closed mid-list", ErrConnection)
}

// dial opens a connection with both the context and the per-query
// timeout applied. The deadline covers the whole query, not just the
// dial, so no single call can block past its bound.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, c.addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: deadline: %v", ErrConnection, err)
	}
	return conn, nil
}

// roundTrip sends one command and reads one response line.
func (c *Client) roundTrip(conn net.Conn, command string) (string, error) {
	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrConnection, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseVarLine parses `VAR <ups> <name> "<value>"` or an ERR response.
func parseVarLine(line, ups string) (name, value string, err error) {
	if strings.HasPrefix(line, "ERR ") {
		return "", "", &ProtocolError{Code: strings.TrimPrefix(line, "ERR ")}
	}
	rest, ok := strings.CutPrefix(line, "VAR "+ups+" ")
	if !ok {
		return "", "", &ProtocolError{Code: "MALFORMED-RESPONSE"}
	}
	name, quoted, found := strings.Cut(rest, " ")
	if !found {
		return "", "", &ProtocolError{Code: "MALFORMED-RESPONSE"}
	}
	return name, unquote(quoted), nil
}

// unquote strips the protocol's double quotes and unescapes \" and \\.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}
