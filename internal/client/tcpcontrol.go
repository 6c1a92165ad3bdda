package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// TimeoutResponse is returned when the control server accepted the command
// but did not answer before the deadline. Callers should poll Status instead
// of trusting the command's own response.
const TimeoutResponse = "timeout"

// TCPControl issues best-effort start/stop/status commands to the remote
// project control channel.
type TCPControl struct {
	addr    string
	timeout time.Duration
}

// NewTCPControl builds a controller for the given control endpoint.
func NewTCPControl(host string, port int) *TCPControl {
	return &TCPControl{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 3 * time.Second,
	}
}

func (c *TCPControl) send(command, projectPath string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return "", fmt.Errorf("control dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(command + ":" + projectPath)); err != nil {
		return "", fmt.Errorf("control write: %w", err)
	}

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) {
			return TimeoutResponse, nil
		}
		return "", fmt.Errorf("control read: %w", err)
	}
	return string(buf[:n]), nil
}

// Start asks the control server to start the project.
func (c *TCPControl) Start(projectPath string) (string, error) {
	return c.send("start", projectPath)
}

// Stop asks the control server to stop the project.
func (c *TCPControl) Stop(projectPath string) (string, error) {
	return c.send("stop", projectPath)
}

// Status polls the project state ("running", "stopped", ...).
func (c *TCPControl) Status(projectPath string) (string, error) {
	return c.send("status", projectPath)
}

// Switch asks the control server to switch the active project.
func (c *TCPControl) Switch(projectPath string) (string, error) {
	return c.send("switch", projectPath)
}
