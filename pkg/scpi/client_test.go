package scpi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/otalab/rxsweep/pkg/rferr"
)

const testTimeout = 2 * time.Second

// startEchoServer runs a one-connection server that answers every line
// according to respond and sends received lines to the returned channel.
func startEchoServer(t *testing.T, respond func(line string) string) (string, chan string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	lines := make(chan string, 64)
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
			lines <- line
			if resp := respond(line); resp != "" {
				fmt.Fprintf(conn, "%s\n", resp)
			}
		}
	}()

	return listener.Addr().String(), lines
}

func TestQueryTrimsResponse(t *testing.T) {
	addr, _ := startEchoServer(t, func(line string) string {
		return "  Keysight,N5182B,MY123,B.01  "
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	resp, err := client.Query("*idn?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp != "Keysight,N5182B,MY123,B.01" {
		t.Errorf("unexpected response: %q", resp)
	}
}

func TestDialRefused(t *testing.T) {
	// Grab a port and close it so the connect is refused.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	if _, err := Dial(addr, 500*time.Millisecond); !errors.Is(err, rferr.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

// parseBlock reads back a definite-length arbitrary block from r and returns
// the command prefix and payload.
func parseBlock(r *bufio.Reader) (string, []byte, error) {
	prefix, err := r.ReadString('#')
	if err != nil {
		return "", nil, err
	}
	prefix = strings.TrimSuffix(prefix, "#")

	digitByte, err := r.ReadByte()
	if err != nil {
		return "", nil, err
	}
	numDigits := int(digitByte - '0')

	lenBuf := make([]byte, numDigits)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", nil, err
	}
	length, err := strconv.Atoi(string(lenBuf))
	if err != nil {
		return "", nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}

	// Trailing newline terminates the block.
	if b, err := r.ReadByte(); err != nil || b != '\n' {
		return "", nil, fmt.Errorf("missing block terminator (byte %q, err %v)", b, err)
	}
	return prefix, payload, nil
}

func TestWriteBinaryBlockFraming(t *testing.T) {
	for _, size := range []int{0, 1, 9, 10, 999, 1000} {
		t.Run(fmt.Sprintf("len_%d", size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 251)
			}

			listener, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				t.Fatalf("failed to listen: %v", err)
			}
			defer listener.Close()

			type result struct {
				prefix  string
				payload []byte
				err     error
			}
			resCh := make(chan result, 1)
			go func() {
				conn, err := listener.Accept()
				if err != nil {
					resCh <- result{err: err}
					return
				}
				defer conn.Close()
				prefix, got, err := parseBlock(bufio.NewReader(conn))
				resCh <- result{prefix: prefix, payload: got, err: err}
			}()

			client, err := Dial(listener.Addr().String(), testTimeout)
			if err != nil {
				t.Fatalf("Dial failed: %v", err)
			}
			defer client.Close()

			cmd := `mmemory:data "WFM1:waveform",`
			if err := client.WriteBinaryBlock(cmd, payload); err != nil {
				t.Fatalf("WriteBinaryBlock failed: %v", err)
			}

			res := <-resCh
			if res.err != nil {
				t.Fatalf("server parse failed: %v", res.err)
			}
			if res.prefix != cmd {
				t.Errorf("prefix mismatch: %q", res.prefix)
			}
			if !bytes.Equal(res.payload, payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(res.payload), size)
			}
		})
	}
}

func TestErrCheckClean(t *testing.T) {
	addr, _ := startEchoServer(t, func(line string) string {
		if line == "SYST:ERR?" {
			return `+0,"No error"`
		}
		return ""
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.ErrCheck(); err != nil {
		t.Errorf("expected clean error queue, got %v", err)
	}
}

func TestErrCheckDrainsQueue(t *testing.T) {
	queue := []string{
		`-222,"Data out of range"`,
		`-113,"Undefined header"`,
		`+0,"No error"`,
	}
	i := 0
	addr, _ := startEchoServer(t, func(line string) string {
		if line == "SYST:ERR?" {
			resp := queue[i]
			if i < len(queue)-1 {
				i++
			}
			return resp
		}
		return ""
	})

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	err = client.ErrCheck()
	if !errors.Is(err, rferr.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if !strings.Contains(err.Error(), "Data out of range") || !strings.Contains(err.Error(), "Undefined header") {
		t.Errorf("aggregated error missing queue entries: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	addr, _ := startEchoServer(t, func(string) string { return "" })

	client, err := Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}
