// Package dut implements the client side of the board ATE daemon protocol:
// newline-terminated JSON commands, a JSON response header and an optional
// raw-byte trailer carrying telemetry text.
package dut

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/otalab/rxsweep/pkg/rferr"
)

// DefaultPort is the ATE daemon listen port on the board.
const DefaultPort = 9600

// Client talks to one board. Each call is a self-contained command; the
// client holds no state beyond the socket.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// The daemon expects externally tagged command objects, one per line.
type ateCmd struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

type ateCmdEnvelope struct {
	ATECmd ateCmd `json:"ATECmd"`
}

type readMibEnvelope struct {
	ReadMib string `json:"ReadMib"`
}

type responseHeader struct {
	IsError  bool   `json:"is_error"`
	FileSize uint64 `json:"file_size"`
}

// Dial connects to the ATE daemon at addr with symmetric read/write
// timeouts. No handshake is performed beyond opening the socket.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to DUT at %s: %v", rferr.ErrConnection, addr, err)
	}

	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// DialHost connects to ip on the default ATE port.
func DialHost(ip string, timeout time.Duration) (*Client, error) {
	return Dial(net.JoinHostPort(ip, fmt.Sprintf("%d", DefaultPort)), timeout)
}

func (c *Client) send(cmd interface{}) error {
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", rferr.ErrIO)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: marshal DUT command: %v", rferr.ErrFormat, err)
	}
	payload = append(payload, '\n')

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("%w: DUT write: %v", rferr.ErrIO, err)
	}
	return nil
}

func (c *Client) readHeader() (responseHeader, error) {
	var hdr responseHeader

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return hdr, fmt.Errorf("%w: DUT read: %v", rferr.ErrIO, err)
	}
	if err := json.Unmarshal([]byte(line), &hdr); err != nil {
		return hdr, fmt.Errorf("%w: DUT response parse: %v", rferr.ErrProtocol, err)
	}
	if hdr.IsError {
		return hdr, fmt.Errorf("%w: DUT returned error", rferr.ErrProtocol)
	}
	return hdr, nil
}

// maxTrailerSize bounds the telemetry blob a response header may announce.
// MIB debug dumps are a few KB; anything near this limit is a corrupt header.
const maxTrailerSize = 16 << 20

// readTrailer consumes exactly size raw bytes following the header line and
// decodes them as UTF-8, replacing invalid sequences.
func (c *Client) readTrailer(size uint64) (string, error) {
	if size > maxTrailerSize {
		return "", fmt.Errorf("%w: DUT telemetry size %d exceeds %d byte limit", rferr.ErrProtocol, size, maxTrailerSize)
	}

	buf := make([]byte, size)
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return "", fmt.Errorf("%w: DUT telemetry read (%d bytes): %v", rferr.ErrIO, size, err)
	}
	return strings.ToValidUTF8(string(buf), "�"), nil
}

// Interface returns the wireless interface serving the given carrier
// frequency: the 5 GHz interface at or above 5000 MHz, otherwise 2.4 GHz.
func Interface(cfMHz uint32) string {
	if cfMHz >= 5000 {
		return "wlan0"
	}
	return "wlan1"
}

// BandwidthCode maps a bandwidth in MHz to the fastconfig bandwidth code.
// Unrecognized bandwidths fall back to the 20 MHz code.
func BandwidthCode(bwMHz uint32) int {
	switch bwMHz {
	case 40:
		return 2
	case 80:
		return 3
	case 160:
		return 4
	default:
		return 1
	}
}

// OpenRX opens the receive path at cfMHz with the given bandwidth.
func (c *Client) OpenRX(cfMHz, bwMHz uint32) error {
	code := BandwidthCode(bwMHz)
	argStr := fmt.Sprintf("%s fastconfig -f %d -c %d -w %d -u %d -r",
		Interface(cfMHz), cfMHz, cfMHz, code, code)

	if err := c.send(ateCmdEnvelope{ATECmd: ateCmd{Cmd: "ate_cmd", Args: strings.Split(argStr, " ")}}); err != nil {
		return err
	}
	_, err := c.readHeader()
	return err
}

// CloseRX tears down the receive path on the interface serving cfMHz.
func (c *Client) CloseRX(cfMHz uint32) error {
	argStr := fmt.Sprintf("%s fastconfig -k", Interface(cfMHz))

	if err := c.send(ateCmdEnvelope{ATECmd: ateCmd{Cmd: "ate_cmd", Args: strings.Split(argStr, " ")}}); err != nil {
		return err
	}
	_, err := c.readHeader()
	return err
}

// ReadMib retrieves the raw MIB debug text for the interface serving cfMHz.
func (c *Client) ReadMib(cfMHz uint32) (string, error) {
	if err := c.send(readMibEnvelope{ReadMib: Interface(cfMHz)}); err != nil {
		return "", err
	}
	hdr, err := c.readHeader()
	if err != nil {
		return "", err
	}
	return c.readTrailer(hdr.FileSize)
}

// Close shuts down the connection. Safe to call twice.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
