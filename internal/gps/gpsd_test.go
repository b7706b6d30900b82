package gps

import (
	"bufio"
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestOpen_GPSDRawPassthrough(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	gga := nmeaSentence("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	watchCh := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(`{"class":"VERSION","release":"3.25"}` + "\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		watchCh <- line
		_, _ = conn.Write([]byte(gga + "\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	st, err := Open(context.Background(), OpenConfig{Device: "gpsd:" + ln.Addr().String()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	l, err := st.ReadLine(context.Background())
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(l.Raw) != gga {
		t.Fatalf("line=%q want %q", l.Raw, gga)
	}
	select {
	case w := <-watchCh:
		if !strings.Contains(w, `"raw":2`) {
			t.Fatalf("watch=%q", w)
		}
	case <-time.After(time.Second):
		t.Fatalf("no watch command received")
	}
}
