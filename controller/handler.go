package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	json "github.com/goccy/go-json"

	"github.com/mwandt/qcxctl/device"
	"github.com/mwandt/qcxctl/qcx"
)

// Config tunes the local connection handler. The zero value picks the
// production defaults.
type Config struct {
	ServerIP  string `yaml:"server_ip"`
	Interface string `yaml:"interface"`

	// Ports. Zero picks the protocol defaults; a negative value binds an
	// ephemeral port (useful with virtual devices).
	UDPPort    int `yaml:"udp_port"`    // local discovery socket
	TCPPort    int `yaml:"tcp_port"`    // local listen socket devices dial
	DevicePort int `yaml:"device_port"` // port devices listen on for SYN

	BroadcastAddr string `yaml:"broadcast_addr"`

	// ProcessTimeout bounds one device exchange end to end.
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	// AcceptTimeout is the readability poll deadline on the listen socket.
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
	// ReadTimeout bounds each socket read inside a connection.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// BroadcastDiscovery keeps SYN bursts going even with an empty queue.
	BroadcastDiscovery bool `yaml:"broadcast_discovery"`
	// PassiveHost answers device-sent SYN datagrams with QCX-ACK.
	PassiveHost bool `yaml:"passive_host"`
}

func (c Config) withDefaults() Config {
	if c.ServerIP == "" {
		c.ServerIP = "0.0.0.0"
	}
	if c.UDPPort == 0 {
		c.UDPPort = qcx.UDPPort
	}
	if c.TCPPort == 0 {
		c.TCPPort = qcx.TCPPort
	}
	if c.DevicePort == 0 {
		c.DevicePort = qcx.UDPPort
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = "255.255.255.255"
	}
	if c.ProcessTimeout == 0 {
		c.ProcessTimeout = 600 * time.Second
	}
	if c.AcceptTimeout == 0 {
		c.AcceptTimeout = 300 * time.Millisecond
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	return c
}

const sweepInterval = 50 * time.Millisecond

type connTask struct {
	id      string
	ip      string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	result  Result
}

// Handler is the local connection handler: it broadcasts discovery,
// accepts device connections, runs one exchange per connection and expires
// overdue messages.
//
// Call Shutdown after using the send methods, or the send loop keeps
// running.
type Handler struct {
	cfg     Config
	data    *ControllerData
	metrics *Metrics

	bindMu sync.Mutex
	udp    *net.UDPConn
	tcp    *net.TCPListener

	mu           sync.Mutex
	queue        map[string][]*Message
	currentAddrs map[string]struct{}
	tasks        map[string]*connTask
	running      bool
	endNow       bool

	wake        chan struct{}
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	sweepDone   chan struct{}
	passiveDone chan struct{}

	stats *AnswerStats
}

// NewHandler wires a handler to the controller data. Metrics are
// unregistered until SetMetrics installs a registered set.
func NewHandler(data *ControllerData, cfg Config) *Handler {
	return &Handler{
		cfg:          cfg.withDefaults(),
		data:         data,
		metrics:      NewMetrics(nil),
		queue:        make(map[string][]*Message),
		currentAddrs: make(map[string]struct{}),
		tasks:        make(map[string]*connTask),
		wake:         make(chan struct{}, 1),
		stats:        NewAnswerStats(),
	}
}

// SetMetrics replaces the collector set, e.g. with one registered on the
// process registry.
func (h *Handler) SetMetrics(m *Metrics) {
	h.metrics = m
}

// BindPorts opens the UDP discovery socket and the TCP listen socket if
// not already bound.
func (h *Handler) BindPorts() error {
	h.bindMu.Lock()
	defer h.bindMu.Unlock()
	if h.udp == nil {
		lc := net.ListenConfig{Control: controlSocket(true, h.cfg.Interface)}
		pc, err := lc.ListenPacket(context.Background(), "udp4",
			net.JoinHostPort(h.cfg.ServerIP, strconv.Itoa(max(h.cfg.UDPPort, 0))))
		if err != nil {
			return fmt.Errorf("controller: binding udp port %d: %w", h.cfg.UDPPort, err)
		}
		h.udp = pc.(*net.UDPConn)
		slog.Debug("Bound UDP port", "addr", h.udp.LocalAddr())
	}
	if h.tcp == nil {
		lc := net.ListenConfig{Control: controlSocket(false, h.cfg.Interface)}
		l, err := lc.Listen(context.Background(), "tcp4",
			net.JoinHostPort(h.cfg.ServerIP, strconv.Itoa(max(h.cfg.TCPPort, 0))))
		if err != nil {
			return fmt.Errorf("controller: binding tcp port %d: %w", h.cfg.TCPPort, err)
		}
		h.tcp = l.(*net.TCPListener)
		slog.Debug("Bound TCP port", "addr", h.tcp.Addr())
	}
	return nil
}

// Start binds the ports and brings the dispatcher, sweeper and passive
// responder up without queueing work. SendMessage does this on demand;
// passive or discovery-only deployments call it directly.
func (h *Handler) Start() error {
	if err := h.BindPorts(); err != nil {
		return err
	}
	h.ensureRunning()
	return nil
}

// TCPAddr returns the bound listen address, for callers that configured
// an ephemeral port.
func (h *Handler) TCPAddr() net.Addr {
	h.bindMu.Lock()
	defer h.bindMu.Unlock()
	if h.tcp == nil {
		return nil
	}
	return h.tcp.Addr()
}

// UDPAddr returns the bound discovery socket address.
func (h *Handler) UDPAddr() net.Addr {
	h.bindMu.Lock()
	defer h.bindMu.Unlock()
	if h.udp == nil {
		return nil
	}
	return h.udp.LocalAddr()
}

// SendMessage queues commands for a target unit-id (or BroadcastUID),
// triggers discovery and blocks until the message is answered, expired or
// the context ends. The returned message is terminal: ANSWERED with the
// decoded answer, or unsent with an empty answer after TTL expiry.
func (h *Handler) SendMessage(ctx context.Context, target string, ttl time.Duration, commands ...device.Command) (*Message, error) {
	if ttl <= 0 {
		ttl = DefaultSendTTL
	}
	done := make(chan struct{})
	m, err := NewMessage(device.FormatUID(target), ttl, func(*Message, string) {
		close(done)
	}, commands...)
	if err != nil {
		return nil, err
	}

	h.enqueue(m)
	h.metrics.Messages.WithLabelValues("enqueued").Inc()
	slog.Debug("new message", "counter", m.Counter, "target", m.TargetUID, "ttl", ttl)

	if err := h.BindPorts(); err != nil {
		h.removeFromQueue(m)
		return nil, err
	}
	h.sendBroadcast()
	h.ensureRunning()

	select {
	case <-done:
		return m, nil
	case <-ctx.Done():
		h.removeFromQueue(m)
		return m, ctx.Err()
	}
}

// Discover broadcasts a ping to every device. Devices that connect back
// within the TTL end up in the registry.
func (h *Handler) Discover(ctx context.Context, ttl time.Duration) (*Message, error) {
	slog.Debug("discover ping start")
	return h.SendMessage(ctx, BroadcastUID, ttl, device.PingCommand{})
}

// Shutdown stops the dispatcher, the sweeper and every in-flight
// connection task, then closes the sockets.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.endNow = true
	cancel := h.loopCancel
	running := h.running
	h.mu.Unlock()

	if running {
		slog.Debug("stop send and search loop")
		cancel()
		<-h.loopDone
		<-h.sweepDone
		if h.passiveDone != nil {
			<-h.passiveDone
		}
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}

	h.mu.Lock()
	var leftovers []*Message
	for _, list := range h.queue {
		leftovers = append(leftovers, list...)
	}
	h.queue = make(map[string][]*Message)
	h.mu.Unlock()
	for _, m := range leftovers {
		m.CallCallback(m.TargetUID)
	}

	h.bindMu.Lock()
	defer h.bindMu.Unlock()
	if h.tcp != nil {
		slog.Debug("Closing TCP port", "port", h.cfg.TCPPort)
		h.tcp.Close()
		h.tcp = nil
	}
	if h.udp != nil {
		slog.Debug("Closing UDP port", "port", h.cfg.UDPPort)
		h.udp.Close()
		h.udp = nil
	}
}

// Stats reports answer latencies per command type, for human consumption.
func (h *Handler) Stats() string {
	return h.stats.Report()
}

// AnswerStats exposes the latency aggregate, e.g. for periodic export.
func (h *Handler) AnswerStats() *AnswerStats {
	return h.stats
}

// String renders internal state for debugging.
func (h *Handler) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return spew.Sprintf(`
controller.Handler(
  running:      %v
  queue:        %v
  currentAddrs: %v
  tasks:        %d
)
`, h.running, h.queue, h.currentAddrs, len(h.tasks))
}

func (h *Handler) enqueue(m *Message) {
	h.mu.Lock()
	h.queue[m.TargetUID] = append(h.queue[m.TargetUID], m)
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handler) removeFromQueue(m *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.queue[m.TargetUID]
	for i, queued := range list {
		if queued == m {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.queue, m.TargetUID)
	} else {
		h.queue[m.TargetUID] = list
	}
}

func (h *Handler) queueLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, list := range h.queue {
		n += len(list)
	}
	return n
}

// hasWorkFor reports whether a fresh connection for uid has anything to
// send: an unsent unicast message or an undelivered broadcast.
func (h *Handler) hasWorkFor(uid string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.queue[BroadcastUID] {
		if !m.DeliveredTo(uid) {
			return true
		}
	}
	for _, m := range h.queue[uid] {
		if m.State() == MessageUnsent {
			return true
		}
	}
	return false
}

// nextMessageFor selects the next message for uid: an undelivered
// broadcast first, then the oldest unsent unicast message.
func (h *Handler) nextMessageFor(uid string) *Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.queue[BroadcastUID] {
		if !m.DeliveredTo(uid) {
			return m
		}
	}
	for _, m := range h.queue[uid] {
		if m.State() == MessageUnsent {
			return m
		}
	}
	return nil
}

// sendBroadcast emits one QCX-SYN burst. Failure is logged and tolerated;
// the accept loop still runs for devices already syncing.
func (h *Handler) sendBroadcast() {
	if h.udp == nil {
		return
	}
	dst := &net.UDPAddr{
		IP:   net.ParseIP(h.cfg.BroadcastAddr),
		Port: h.cfg.DevicePort,
	}
	slog.Debug("Broadcasting QCX-SYN burst", "dst", dst)
	if _, err := h.udp.WriteToUDP(qcx.Syn, dst); err != nil {
		slog.Debug("Broadcasting QCX-SYN burst failed", "err", err)
		return
	}
	h.metrics.Broadcasts.Inc()
}

// ensureRunning starts the dispatcher, sweeper and passive responder once.
func (h *Handler) ensureRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.endNow {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.loopCancel = cancel
	h.loopDone = make(chan struct{})
	h.sweepDone = make(chan struct{})
	h.running = true
	go h.runLoop(ctx)
	go h.runSweeper(ctx)
	if h.cfg.PassiveHost {
		h.passiveDone = make(chan struct{})
		go h.runPassive(ctx)
	}
}

// runLoop is the dispatcher: broadcast when work is queued, poll the
// listen socket, spawn per-connection tasks, reap finished ones, and sleep
// cancellably when idle.
func (h *Handler) runLoop(ctx context.Context) {
	defer close(h.loopDone)
	defer h.drainTasks()

	for ctx.Err() == nil {
		if err := h.BindPorts(); err != nil {
			slog.Error("Error binding discovery ports", "err", err)
			return
		}

		if h.queueLen() > 0 || h.cfg.BroadcastDiscovery {
			h.sendBroadcast()
			for {
				more, err := h.acceptOne(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Error("Error accepting device connection", "err", err)
					}
					break
				}
				if !more {
					break
				}
			}
		}

		h.reapTasks()

		if h.queueLen() == 0 && !h.cfg.BroadcastDiscovery {
			select {
			case <-h.wake:
			case <-ctx.Done():
			}
			continue
		}
		pause := sweepInterval
		if h.queueLen() == 0 {
			// Discovery-only mode paces its bursts.
			pause = 2 * time.Second
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
		}
	}
	slog.Debug("Search devices and process incoming connections loop ended")
}

// acceptOne polls the listen socket once. It reports whether another poll
// is worthwhile (a connection was taken off the backlog).
func (h *Handler) acceptOne(ctx context.Context) (bool, error) {
	if err := h.tcp.SetDeadline(time.Now().Add(h.cfg.AcceptTimeout)); err != nil {
		return false, err
	}
	sock, err := h.tcp.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}

	c, err := newConnection(sock)
	if err != nil {
		sock.Close()
		return true, err
	}

	h.mu.Lock()
	if _, dup := h.currentAddrs[c.ip]; dup {
		h.mu.Unlock()
		slog.Debug("Address already in connection", "ip", c.ip)
		h.metrics.DuplicateAddr.Inc()
		sock.Close()
		return true, nil
	}
	h.currentAddrs[c.ip] = struct{}{}
	h.mu.Unlock()

	h.metrics.Accepted.Inc()
	h.spawnTask(ctx, c)
	slog.Debug("Connection process task created", "ip", c.ip)
	return true, nil
}

func (h *Handler) spawnTask(parent context.Context, c *connection) {
	tctx, cancel := context.WithTimeout(parent, h.cfg.ProcessTimeout)
	t := &connTask{
		id:      c.id,
		ip:      c.ip,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.tasks[c.id] = t
	h.mu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()
		t.result = h.handleDeviceTCP(tctx, c)
	}()
}

func (h *Handler) reapTasks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.tasks {
		select {
		case <-t.done:
			slog.Debug("Finished tcp connection to device", "ip", t.ip, "result", t.result.String())
			delete(h.tasks, id)
		default:
			if time.Since(t.started) > h.cfg.ProcessTimeout {
				t.cancel()
			}
		}
	}
}

func (h *Handler) drainTasks() {
	h.mu.Lock()
	tasks := make([]*connTask, 0, len(h.tasks))
	for _, t := range h.tasks {
		t.cancel()
		tasks = append(tasks, t)
	}
	h.tasks = make(map[string]*connTask)
	h.mu.Unlock()
	for _, t := range tasks {
		<-t.done
	}
}

func (h *Handler) removeAddr(ip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.currentAddrs, ip)
}

// handleDeviceTCP runs one connection exchange and owns its cleanup: the
// socket closes, the remote IP leaves the current-addresses set and the
// device use-lock is released on every exit path. An unexpected exit fails
// the in-flight message so callers never hang.
func (h *Handler) handleDeviceTCP(ctx context.Context, c *connection) (res Result) {
	var dev *device.Device
	var inflight *Message

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Unhandled panic during local communication", "ip", c.ip, "panic", r)
			res = ResultUnknownError
		}
		c.close()
		h.removeAddr(c.ip)

		uid := ""
		if dev != nil {
			uid = dev.UID()
			dev.Release(c.id)
		}

		switch res {
		case ResultAnswered, ResultNoError, ResultNoMessageToSend, ResultNothingDone:
			slog.Debug("Connection finished", "ip", c.ip, "uid", uid, "result", res.String())
		case ResultSent:
			// Sent but unanswered: the message stays queued, its TTL
			// advances it.
			slog.Info("Message sent, no answer before connection end", "ip", c.ip, "uid", uid)
		case ResultTCPError:
			slog.Error("Connection closed unexpectedly", "ip", c.ip, "uid", uid)
		case ResultSocketError, ResultSendError:
			slog.Error("Socket error during device communication", "ip", c.ip, "uid", uid, "result", res.String())
		case ResultMissingAESKey:
			slog.Error("Missing AES key, device is probably not onboarded; provide a key for the unit-id", "uid", uid)
		case ResultDeviceLockTimeout, ResultNoUnitID:
			slog.Warn("Connection ended", "ip", c.ip, "uid", uid, "result", res.String())
		default:
			slog.Error("Error during send and handshake with device", "ip", c.ip, "uid", uid, "result", res.String())
		}
		h.metrics.Results.WithLabelValues(res.String()).Inc()

		if inflight != nil && inflight.State() != MessageAnswered && res != ResultSent {
			h.removeFromQueue(inflight)
			inflight.SetErr(fmt.Errorf("controller: connection ended %s", res.String()))
			inflight.CallCallback(uid)
			h.metrics.Messages.WithLabelValues("failed").Inc()
		}
		if res == ResultMissingAESKey && dev != nil && inflight == nil {
			h.failPendingFor(uid, errors.New("controller: missing AES key"))
		}
	}()

	slog.Debug("New tcp connection to device", "ip", c.ip)
	return h.handleConnection(ctx, c, &dev, &inflight)
}

// failPendingFor drops every queued unicast message for uid, surfacing the
// failure through their callbacks with an empty answer.
func (h *Handler) failPendingFor(uid string, cause error) {
	h.mu.Lock()
	pending := h.queue[uid]
	delete(h.queue, uid)
	h.mu.Unlock()
	for _, m := range pending {
		m.SetErr(cause)
		m.CallCallback(uid)
		h.metrics.Messages.WithLabelValues("failed").Inc()
	}
}

// handleConnection drives the per-connection state machine: identity and
// initial vector while in WAIT_IV, then command send and answer receive
// once CONNECTED.
func (h *Handler) handleConnection(ctx context.Context, c *connection, devp **device.Device, inflightp **Message) Result {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			if m := *inflightp; m != nil && m.State() == MessageSent {
				return ResultSent
			}
			return ResultNothingDone
		default:
		}

		if c.state == stateConnected && *inflightp == nil {
			res := h.sendNextMessage(ctx, c, *devp, inflightp)
			if res != ResultNoError {
				return res
			}
		}

		n, err := c.readSome(buf, h.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("EOF", "ip", c.ip)
				return ResultTCPError
			}
			return ResultSocketError
		}
		if n == 0 {
			continue
		}
		slog.Debug("TCP server received bytes", "n", n, "ip", c.ip)

		c.reader.Feed(buf[:n])
		for {
			frame, ferr := c.reader.Next()
			if ferr != nil {
				slog.Error("Unreadable frame from device", "ip", c.ip, "err", ferr)
				return ResultResponseError
			}
			if frame == nil {
				break
			}
			res := h.processFrame(c, frame, devp, inflightp)
			if res != ResultNoError {
				return res
			}
		}
	}
}

func (h *Handler) processFrame(c *connection, frame *qcx.Frame, devp **device.Device, inflightp **Message) Result {
	h.metrics.Frames.WithLabelValues("rx", frame.Type.String()).Inc()
	switch {
	case c.state == stateWaitIV && frame.Type == qcx.FrameIdentity:
		return h.processIdentity(c, frame.Data, devp)
	case c.state == stateWaitIV && frame.Type == qcx.FrameIV:
		return h.processRemoteIV(c, frame.Data)
	case c.state == stateConnected && frame.Type == qcx.FrameData:
		return h.processAnswer(c, frame.Data, *devp, inflightp)
	}
	slog.Debug("No frame to process in this state, waiting on the device",
		"state", c.state.String(), "type", frame.Type.String())
	return ResultNoError
}

// processIdentity registers the device, acquires its use-lock, selects the
// AES key and sends the local initial vector.
func (h *Handler) processIdentity(c *connection, data []byte, devp **device.Device) Result {
	slog.Debug("Plain identity", "data", string(data))
	var body struct {
		Type  string          `json:"type"`
		Ident device.Identity `json:"ident"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ResultNoUnitID
	}
	uid := device.FormatUID(body.Ident.UnitID)
	if uid == "" {
		return ResultNoUnitID
	}

	dev := h.data.GetOrCreateDevice(uid, body.Ident.ProductID)
	dev.SetIdent(body.Ident)
	if dev.Config() == nil {
		if cfg, ok := h.data.ConfigFor(body.Ident.ProductID); ok {
			dev.ReadConfig(cfg)
		}
	}

	if !dev.TryUse(c.id, device.UseLockTimeout) {
		return ResultDeviceLockTimeout
	}
	*devp = dev
	dev.SetLocalAddr(c.ip)
	c.received = append(c.received, data)

	if !h.hasWorkFor(uid) {
		return ResultNoMessageToSend
	}

	key, ok := h.data.KeyFor(uid)
	if ok {
		c.aesKey = key
	}

	slog.Debug("Sending local initial vector", "uid", uid)
	if err := c.sendFrame(qcx.FrameIV, c.localIV); err != nil {
		return ResultSocketError
	}
	h.metrics.Frames.WithLabelValues("tx", qcx.FrameIV.String()).Inc()
	return ResultNoError
}

// processRemoteIV derives both AES contexts and moves to CONNECTED.
func (h *Handler) processRemoteIV(c *connection, data []byte) Result {
	if len(data) != qcx.IVLen {
		return ResultResponseError
	}
	c.remoteIV = append([]byte{}, data...)
	c.received = append(c.received, data)
	if len(c.aesKey) == 0 {
		return ResultMissingAESKey
	}
	session, err := qcx.NewSession(c.aesKey, c.localIV, c.remoteIV)
	if err != nil {
		return ResultUnknownError
	}
	c.session = session
	c.state = stateConnected
	slog.Debug("Received remote initial vector, connected state", "ip", c.ip)
	return ResultNoError
}

// processAnswer decrypts a data frame, updates device state and completes
// the in-flight message.
func (h *Handler) processAnswer(c *connection, data []byte, dev *device.Device, inflightp **Message) Result {
	plain, err := c.session.Decrypt(data)
	if err != nil {
		return ResultResponseError
	}
	c.received = append(c.received, plain)
	slog.Debug("Reply decrypted", "uid", dev.UID(), "plain", string(plain))

	var parsed device.TypeJSON
	if err := json.Unmarshal(plain, &parsed); err != nil {
		slog.Error("Couldn't read answer from device", "uid", dev.UID())
		return ResultResponseError
	}
	dev.SaveMessage(plain)
	c.keyConfirmed = true

	m := *inflightp
	if m == nil {
		// Unsolicited frame; the status update above is all there is to do.
		return ResultNoError
	}
	if m.SetAnswer(plain) {
		if !m.IsBroadcast() {
			h.removeFromQueue(m)
		}
		m.CallCallback(dev.UID())
		h.metrics.Messages.WithLabelValues("answered").Inc()
		h.stats.Observe(m)
		slog.Debug("Device answered message", "uid", dev.UID(), "counter", m.Counter)
	}
	return ResultAnswered
}

// sendNextMessage picks the next message for the device, validates and
// serializes its commands and writes them back to back, honoring declared
// transition pauses.
func (h *Handler) sendNextMessage(ctx context.Context, c *connection, dev *device.Device, inflightp **Message) Result {
	uid := dev.UID()
	m := h.nextMessageFor(uid)
	if m == nil {
		return ResultNoMessageToSend
	}
	slog.Debug("Process message to send", "counter", m.Counter, "uid", uid)

	texts := make([]string, len(m.Commands))
	for i, cmd := range m.Commands {
		if checker, ok := cmd.(device.ValueChecker); ok && !checker.Forced() {
			if err := checker.CheckValues(dev); err != nil {
				slog.Error("Value check failed, dropping message", "uid", uid, "counter", m.Counter, "err", err)
				h.removeFromQueue(m)
				m.SetErr(err)
				m.CallCallback(uid)
				h.metrics.Messages.WithLabelValues("dropped").Inc()
				return ResultNoError
			}
		}
		text, err := cmd.MsgString()
		if err != nil {
			h.removeFromQueue(m)
			m.SetErr(err)
			m.CallCallback(uid)
			return ResultUnknownError
		}
		texts[i] = text
	}

	if m.IsBroadcast() {
		m.MarkDelivered(uid)
	}

	for i, text := range texts {
		if wait := time.Until(c.lastSend.Add(c.pause)); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ResultSent
			}
		}
		if err := c.encryptAndSend(text); err != nil {
			slog.Error("Could not send message", "uid", uid, "err", err)
			return ResultSendError
		}
		h.metrics.Frames.WithLabelValues("tx", qcx.FrameData.String()).Inc()
		c.lastSend = time.Now()
		c.pause = 0
		if timer, ok := m.Commands[i].(device.TransitionTimer); ok {
			c.pause = timer.Pause()
		}
		m.MarkSent(text)
	}

	*inflightp = m
	return ResultNoError
}

// runSweeper expires overdue messages: their callbacks fire once with an
// empty answer and empty queue slots are deleted.
func (h *Handler) runSweeper(ctx context.Context) {
	defer close(h.sweepDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Message queue time to live task ended")
			return
		case <-ticker.C:
		}

		now := time.Now()
		var expired []*Message
		h.mu.Lock()
		for uid, list := range h.queue {
			keep := list[:0]
			for _, m := range list {
				if m.Expired(now) {
					expired = append(expired, m)
				} else {
					keep = append(keep, m)
				}
			}
			if len(keep) == 0 {
				delete(h.queue, uid)
			} else {
				h.queue[uid] = keep
			}
		}
		h.mu.Unlock()

		for _, m := range expired {
			slog.Debug("time to live ended for message", "counter", m.Counter, "ttl", m.TTL)
			m.CallCallback(m.TargetUID)
			h.metrics.Messages.WithLabelValues("expired").Inc()
		}
	}
}

// runPassive answers device-sent discovery bursts. Devices expect the ACK
// twice.
func (h *Handler) runPassive(ctx context.Context) {
	defer close(h.passiveDone)
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		if err := h.udp.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return
		}
		n, addr, err := h.udp.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if bytes.Equal(buf[:n], qcx.Syn) {
			slog.Debug("Passive SYN received", "from", addr)
			h.udp.WriteToUDP(qcx.Ack, addr)
			h.udp.WriteToUDP(qcx.Ack, addr)
		}
	}
}
