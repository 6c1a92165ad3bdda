package client

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type controlRecorder struct {
	mu       sync.Mutex
	commands []string
}

func (r *controlRecorder) add(cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *controlRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

// fakeControlServer answers each connection with the given response, or stays
// silent when respond is empty.
func fakeControlServer(t *testing.T, respond string) (host string, port int, rec *controlRecorder) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	rec = &controlRecorder{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 256)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				rec.add(string(buf[:n]))
				if respond != "" {
					conn.Write([]byte(respond))
				} else {
					// Hold the connection open past the client deadline.
					time.Sleep(5 * time.Second)
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, rec
}

func TestTCPControlCommands(t *testing.T) {
	host, port, rec := fakeControlServer(t, "ok")
	ctrl := NewTCPControl(host, port)

	resp, err := ctrl.Start("/projects/demo")
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	resp, err = ctrl.Stop("/projects/demo")
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	resp, err = ctrl.Switch("/projects/other")
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	require.Equal(t, []string{
		"start:/projects/demo",
		"stop:/projects/demo",
		"switch:/projects/other",
	}, rec.all())
}

func TestTCPControlStatus(t *testing.T) {
	host, port, _ := fakeControlServer(t, "running")
	ctrl := NewTCPControl(host, port)

	status, err := ctrl.Status("/projects/demo")
	require.NoError(t, err)
	require.Equal(t, "running", status)
}

func TestTCPControlReadTimeoutIsNotAnError(t *testing.T) {
	host, port, _ := fakeControlServer(t, "")
	ctrl := NewTCPControl(host, port)
	ctrl.timeout = 100 * time.Millisecond

	resp, err := ctrl.Start("/projects/demo")
	require.NoError(t, err)
	require.Equal(t, TimeoutResponse, resp)
}

func TestTCPControlDialFailure(t *testing.T) {
	ctrl := NewTCPControl("127.0.0.1", 1)
	ctrl.timeout = 100 * time.Millisecond

	_, err := ctrl.Start("/projects/demo")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "control dial"))
}
