package delve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-delve/delve/service/rpc2"
)

const dialInterval = 100 * time.Millisecond

// LaunchConfig describes a target started under a headless dlv.
type LaunchConfig struct {
	// Binary is the dlv executable. Empty means "dlv" from PATH.
	Binary string
	// Target is the program to debug.
	Target string
	// Args are passed to the target after "--".
	Args []string
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Launch starts a headless dlv server for the target and connects to it. The
// server is killed on Close. ctx bounds the wait for the server to come up.
func Launch(ctx context.Context, cfg LaunchConfig, opts ...Option) (*Client, error) {
	absPath, err := filepath.Abs(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("resolving target %s: %w", cfg.Target, err)
	}
	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("finding free port for delve: %w", err)
	}
	listen := "localhost:" + strconv.Itoa(port)

	cmdArgs := []string{
		"exec", absPath,
		"--headless",
		"--listen=" + listen,
		"--api-version=2",
		"--accept-multiclient",
	}
	if len(cfg.Args) > 0 {
		cmdArgs = append(cmdArgs, "--")
		cmdArgs = append(cmdArgs, cfg.Args...)
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "dlv"
	}
	cmd := exec.Command(binary, cmdArgs...)
	setupProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting delve: %w", err)
	}

	c := newClient(opts...)
	c.cmd = cmd
	c.log.Info("started delve headless server", "target", absPath, "listen", listen, "pid", cmd.Process.Pid)

	conn, err := dialUntil(ctx, listen)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, fmt.Errorf("connecting to delve at %s: %w", listen, err)
	}
	if err := c.attach(rpc2.NewClientFromConn(conn)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// dialUntil retries until the server accepts a connection or ctx ends.
func dialUntil(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Close disconnects from dlv and, if it was started by Launch, kills it.
func (c *Client) Close() error {
	var closeErr error
	if c.rpc != nil {
		if err := c.rpc.Disconnect(false); err != nil {
			c.log.Warn("disconnecting delve client", "error", err)
			closeErr = fmt.Errorf("disconnecting delve client: %w", err)
		}
		c.rpc = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		pid := c.cmd.Process.Pid
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.log.Warn("killing delve process", "pid", pid, "error", err)
			closeErr = errors.Join(closeErr, fmt.Errorf("killing delve process: %w", err))
		}
		if _, err := c.cmd.Process.Wait(); err != nil && !isWaitAlreadyExited(err) {
			c.log.Warn("waiting for delve process", "pid", pid, "error", err)
			if closeErr == nil {
				closeErr = fmt.Errorf("waiting for delve process: %w", err)
			}
		}
		c.log.Info("delve process terminated", "pid", pid)
		c.cmd = nil
	}
	return closeErr
}

// isWaitAlreadyExited reports a Wait on a process that was already reaped.
func isWaitAlreadyExited(err error) bool {
	if errors.Is(err, os.ErrProcessDone) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus() == -1
		}
	}
	return false
}
