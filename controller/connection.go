package controller

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/mwandt/qcxctl/qcx"
)

type aesState int

const (
	stateWaitIV aesState = iota
	stateConnected
)

func (s aesState) String() string {
	if s == stateConnected {
		return "CONNECTED"
	}
	return "WAIT_IV"
}

// connection is the per-socket state of one device exchange. Its id doubles
// as the owner identity of the device use-lock.
type connection struct {
	id   string
	ip   string
	sock net.Conn

	reader   qcx.FrameReader
	localIV  []byte
	remoteIV []byte
	aesKey   []byte
	session  *qcx.Session
	state    aesState

	keyConfirmed bool
	received     [][]byte
	started      time.Time
	lastSend     time.Time
	pause        time.Duration
}

func newConnection(sock net.Conn) (*connection, error) {
	iv, err := qcx.NewLocalIV()
	if err != nil {
		return nil, err
	}
	ip := sock.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return &connection{
		id:      uuid.NewString(),
		ip:      ip,
		sock:    sock,
		localIV: iv,
		state:   stateWaitIV,
		started: time.Now(),
	}, nil
}

// readSome reads with a bounded deadline. A deadline pass returns (0, nil)
// so the caller can interleave sends; EOF and socket errors pass through.
func (c *connection) readSome(buf []byte, timeout time.Duration) (int, error) {
	if err := c.sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := c.sock.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (c *connection) sendFrame(t qcx.FrameType, payload []byte) error {
	frame, err := qcx.EncodeFrame(t, payload)
	if err != nil {
		return err
	}
	if err := c.sock.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	_, err = c.sock.Write(frame)
	return err
}

// encryptAndSend pads, encrypts and frames one serialized command.
func (c *connection) encryptAndSend(text string) error {
	return c.sendFrame(qcx.FrameData, c.session.Encrypt([]byte(text)))
}

func (c *connection) close() {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
}
