package replication

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"redisd/internal/resp"
)

// Client is the replica side of a master connection: it performs the
// handshake, then consumes the master's command stream, applying every
// command and tracking the processed-byte offset per §4.7's accounting
// rules.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	log  *logrus.Logger

	processedOffset int64
}

// Connect dials host:port and performs the PING / REPLCONF / PSYNC
// handshake, discarding the full-resync RDB payload: this implementation
// always reloads from its own on-disk snapshot at startup rather than
// applying the master's blob, since the master only ever sends the
// hard-coded empty RDB.
func Connect(host string, port int, listeningPort int, log *logrus.Logger) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "replication: dial master")
	}

	r := bufio.NewReader(conn)

	send := func(args ...string) error {
		_, err := conn.Write(resp.EncodeBulkStringArray(args))
		return err
	}
	expectLine := func(want string) error {
		line, err := r.ReadString('\n')
		if err != nil {
			return errors.Wrap(err, "replication: read handshake reply")
		}
		if !strings.Contains(line, want) {
			return errors.Errorf("replication: handshake expected %q, got %q", want, line)
		}
		return nil
	}

	if err := send("PING"); err != nil {
		return nil, err
	}
	if err := expectLine("PONG"); err != nil {
		return nil, err
	}

	if err := send("REPLCONF", "listening-port", strconv.Itoa(listeningPort)); err != nil {
		return nil, err
	}
	if err := expectLine("OK"); err != nil {
		return nil, err
	}

	if err := send("REPLCONF", "capa", "psync2"); err != nil {
		return nil, err
	}
	if err := expectLine("OK"); err != nil {
		return nil, err
	}

	if err := send("PSYNC", "?", "-1"); err != nil {
		return nil, err
	}
	if err := expectLine("FULLRESYNC"); err != nil {
		return nil, err
	}

	// Empty RDB blob, framed as a bulk string: $<len>\r\n<bytes> with no
	// trailing CRLF (it isn't a normal bulk reply).
	lenLine, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "replication: read RDB length")
	}
	lenLine = strings.TrimSpace(lenLine)
	if !strings.HasPrefix(lenLine, "$") {
		return nil, errors.Errorf("replication: expected RDB bulk header, got %q", lenLine)
	}
	n, err := strconv.Atoi(lenLine[1:])
	if err != nil {
		return nil, errors.Wrap(err, "replication: bad RDB length")
	}
	rdbBlob := make([]byte, n)
	if _, err := readFull(r, rdbBlob); err != nil {
		return nil, errors.Wrap(err, "replication: read RDB blob")
	}

	log.WithField("master", addr).Info("replication: handshake complete")
	return &Client{conn: conn, r: r, log: log}, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Run consumes commands from the master until the connection closes or
// ctx-equivalent cancellation happens via conn.Close from another
// goroutine. apply is invoked for every command except REPLCONF GETACK,
// which Run answers directly. Reply suppression for ordinary commands
// is enforced here: apply's return value is never written back to the
// master.
func (c *Client) Run(apply func(args []string) error) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		args, n, err := resp.DecodeCommand(buf)
		if err == resp.ErrNeedMore {
			more, rerr := c.r.Read(chunk)
			if rerr != nil {
				return errors.Wrap(rerr, "replication: read from master")
			}
			buf = append(buf, chunk[:more]...)
			continue
		}
		if err != nil {
			return errors.Wrap(err, "replication: decode master frame")
		}

		frame := buf[:n]
		buf = buf[n:]

		if len(args) >= 2 && strings.EqualFold(args[0], "REPLCONF") && strings.EqualFold(args[1], "GETACK") {
			ack := resp.EncodeBulkStringArray([]string{
				"REPLCONF", "ACK", fmt.Sprintf("%d", c.processedOffset),
			})
			if _, werr := c.conn.Write(ack); werr != nil {
				return errors.Wrap(werr, "replication: write ACK")
			}
			c.processedOffset += int64(len(frame))
			continue
		}

		if len(args) > 0 {
			if err := apply(args); err != nil {
				c.log.WithError(err).WithField("args", args).Warn("replication: error applying replicated command")
			}
		}
		c.processedOffset += int64(len(frame))
	}
}

// ProcessedOffset reports the replica's consumed-byte counter.
func (c *Client) ProcessedOffset() int64 {
	return c.processedOffset
}

// Close terminates the master connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
