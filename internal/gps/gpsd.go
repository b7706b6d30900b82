package gps

import (
	"context"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatchRaw asks gpsd to pass the receiver's sentences through unchanged.
// gpsd interleaves its own JSON banner lines; the framer skips those.
func gpsdWatchRaw(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"raw\":2}\n"))
	return err
}

func openGPSD(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := dialGPSD(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := gpsdWatchRaw(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
