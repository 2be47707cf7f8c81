// Package scpi implements a synchronous SCPI-style instrument client over a
// raw TCP socket: newline-terminated text commands and queries, IEEE 488.2
// definite-length binary block upload, and an error-queue drain.
package scpi

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/otalab/rxsweep/pkg/rferr"
)

// Client is a half-duplex request/response SCPI connection. It is not safe
// for concurrent use; the owning controller must serialize calls.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial opens a TCP connection to addr with symmetric read/write timeouts.
// The timeout is fixed for the life of the connection.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", rferr.ErrConnection, addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// WriteCmd sends a single command terminated by a newline.
func (c *Client) WriteCmd(cmd string) error {
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", rferr.ErrIO)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("%w: write %q: %v", rferr.ErrIO, cmd, err)
	}
	return nil
}

// ReadResponse blocks until a newline or the read timeout and returns the
// trimmed line.
func (c *Client) ReadResponse() (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("%w: not connected", rferr.ErrIO)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", rferr.ErrIO, err)
	}
	return strings.TrimSpace(line), nil
}

// Query sends a command and returns the single-line response.
func (c *Client) Query(cmd string) (string, error) {
	if err := c.WriteCmd(cmd); err != nil {
		return "", err
	}
	return c.ReadResponse()
}

// WriteBinaryBlock sends cmd followed by IEEE 488.2 definite-length
// arbitrary block data: <cmd>#<digit-count><length><raw bytes>\n.
// The digit-count field is the length of the decimal length string itself.
func (c *Client) WriteBinaryBlock(cmd string, data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", rferr.ErrIO)
	}

	lenStr := fmt.Sprintf("%d", len(data))
	header := fmt.Sprintf("%s#%d%s", cmd, len(lenStr), lenStr)

	// Assemble the full block before writing so no flush boundary can
	// split the header from the payload.
	msg := make([]byte, 0, len(header)+len(data)+1)
	msg = append(msg, header...)
	msg = append(msg, data...)
	msg = append(msg, '\n')

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("%w: write binary block %q (%d bytes): %v", rferr.ErrIO, cmd, len(data), err)
	}
	return nil
}

// ErrCheck drains the instrument error queue via SYST:ERR? until a clean
// response is seen. A response is clean when, with '+' and '-' stripped, it
// starts with "0," or contains "No error". All non-clean responses are
// aggregated into a single error.
func (c *Client) ErrCheck() error {
	var errs []string
	for {
		resp, err := c.Query("SYST:ERR?")
		if err != nil {
			return err
		}
		cleaned := strings.NewReplacer("+", "", "-", "").Replace(resp)
		if strings.HasPrefix(cleaned, "0,") || strings.Contains(cleaned, "No error") {
			break
		}
		errs = append(errs, resp)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: instrument errors: %s", rferr.ErrProtocol, strings.Join(errs, "; "))
	}
	return nil
}

// Close shuts down the connection. Safe to call on an already-closed client.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
