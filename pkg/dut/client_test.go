package dut

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/otalab/rxsweep/pkg/rferr"
)

const testTimeout = 2 * time.Second

func TestInterfaceSelection(t *testing.T) {
	cases := []struct {
		cfMHz uint32
		want  string
	}{
		{2412, "wlan1"},
		{2484, "wlan1"},
		{4999, "wlan1"},
		{5000, "wlan0"},
		{5180, "wlan0"},
		{5825, "wlan0"},
	}
	for _, tc := range cases {
		if got := Interface(tc.cfMHz); got != tc.want {
			t.Errorf("Interface(%d) = %q, want %q", tc.cfMHz, got, tc.want)
		}
	}
}

func TestBandwidthCodeMapping(t *testing.T) {
	cases := []struct {
		bw   uint32
		want int
	}{
		{20, 1},
		{40, 2},
		{80, 3},
		{160, 4},
		{10, 1},  // unrecognized falls back to 20 MHz code
		{0, 1},
		{333, 1},
	}
	for _, tc := range cases {
		if got := BandwidthCode(tc.bw); got != tc.want {
			t.Errorf("BandwidthCode(%d) = %d, want %d", tc.bw, got, tc.want)
		}
	}
}

// startDaemon runs a one-connection mock ATE daemon. Each received line is
// delivered on the commands channel; replies come from the respond callback
// as (headerLine, trailer).
func startDaemon(t *testing.T, respond func(line string) (string, []byte)) (string, chan string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	commands := make(chan string, 16)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			commands <- line
			header, trailer := respond(line)
			fmt.Fprintf(conn, "%s\n", header)
			if len(trailer) > 0 {
				conn.Write(trailer)
			}
		}
	}()

	return listener.Addr().String(), commands
}

func TestOpenRXCommandShape(t *testing.T) {
	addr, commands := startDaemon(t, func(string) (string, []byte) {
		return `{"is_error":false,"file_size":0}`, nil
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.OpenRX(5180, 80); err != nil {
		t.Fatalf("OpenRX failed: %v", err)
	}

	var env struct {
		ATECmd struct {
			Cmd  string   `json:"cmd"`
			Args []string `json:"args"`
		} `json:"ATECmd"`
	}
	if err := json.Unmarshal([]byte(<-commands), &env); err != nil {
		t.Fatalf("command not valid JSON: %v", err)
	}
	if env.ATECmd.Cmd != "ate_cmd" {
		t.Errorf("cmd = %q, want ate_cmd", env.ATECmd.Cmd)
	}
	want := []string{"wlan0", "fastconfig", "-f", "5180", "-c", "5180", "-w", "3", "-u", "3", "-r"}
	if len(env.ATECmd.Args) != len(want) {
		t.Fatalf("args = %v, want %v", env.ATECmd.Args, want)
	}
	for i := range want {
		if env.ATECmd.Args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, env.ATECmd.Args[i], want[i])
		}
	}
}

func TestCloseRXCommandShape(t *testing.T) {
	addr, commands := startDaemon(t, func(string) (string, []byte) {
		return `{"is_error":false,"file_size":0}`, nil
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.CloseRX(2412); err != nil {
		t.Fatalf("CloseRX failed: %v", err)
	}

	line := <-commands
	if !strings.Contains(line, `"wlan1"`) || !strings.Contains(line, `"-k"`) {
		t.Errorf("unexpected teardown command: %s", line)
	}
}

func TestReadMibTrailer(t *testing.T) {
	mibText := "user->rec_rx_count = 42\nreceive 20M OK = 40\n"
	addr, commands := startDaemon(t, func(line string) (string, []byte) {
		return fmt.Sprintf(`{"is_error":false,"file_size":%d}`, len(mibText)), []byte(mibText)
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	text, err := client.ReadMib(5180)
	if err != nil {
		t.Fatalf("ReadMib failed: %v", err)
	}
	if text != mibText {
		t.Errorf("trailer mismatch: %q", text)
	}

	var env struct {
		ReadMib string `json:"ReadMib"`
	}
	if err := json.Unmarshal([]byte(<-commands), &env); err != nil {
		t.Fatalf("command not valid JSON: %v", err)
	}
	if env.ReadMib != "wlan0" {
		t.Errorf("ReadMib interface = %q, want wlan0", env.ReadMib)
	}
}

func TestDeviceError(t *testing.T) {
	addr, _ := startDaemon(t, func(string) (string, []byte) {
		return `{"is_error":true,"file_size":0}`, nil
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.OpenRX(2412, 20); !errors.Is(err, rferr.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestMalformedHeader(t *testing.T) {
	addr, _ := startDaemon(t, func(string) (string, []byte) {
		return `not json`, nil
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.CloseRX(2412); !errors.Is(err, rferr.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestOversizedTrailerRejected(t *testing.T) {
	addr, _ := startDaemon(t, func(string) (string, []byte) {
		// Announces far more telemetry than any MIB dump; the client
		// must refuse before allocating for it.
		return fmt.Sprintf(`{"is_error":false,"file_size":%d}`, uint64(1)<<40), nil
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.ReadMib(2412); !errors.Is(err, rferr.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}
