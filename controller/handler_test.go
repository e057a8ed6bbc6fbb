package controller_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwandt/qcxctl/controller"
	"github.com/mwandt/qcxctl/device"
	"github.com/mwandt/qcxctl/qcx"
)

func testConfig() controller.Config {
	return controller.Config{
		UDPPort:        -1,
		TCPPort:        -1,
		DevicePort:     19998, // nothing listens; bursts go nowhere
		BroadcastAddr:  "127.0.0.1",
		AcceptTimeout:  50 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
		ProcessTimeout: 10 * time.Second,
	}
}

func newTestHandler(t *testing.T, data *controller.ControllerData) *controller.Handler {
	t.Helper()
	h := controller.NewHandler(data, testConfig())
	require.NoError(t, h.Start())
	t.Cleanup(h.Shutdown)
	return h
}

// dialFrom connects to the handler's listen socket, optionally from a
// specific loopback source address so several virtual devices can coexist
// under the one-connection-per-IP rule.
func dialFrom(t *testing.T, h *controller.Handler, localIP string) net.Conn {
	t.Helper()
	dialer := net.Dialer{Timeout: 2 * time.Second}
	if localIP != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(localIP)}
	}
	conn, err := dialer.Dial("tcp", listenTarget(h))
	require.NoError(t, err)
	return conn
}

// listenTarget rewrites the wildcard listen address to loopback.
func listenTarget(h *controller.Handler) string {
	addr := h.TCPAddr().(*net.TCPAddr)
	return fmt.Sprintf("127.0.0.1:%d", addr.Port)
}

func identityJSON(uid, productID string) string {
	return fmt.Sprintf(`{"type":"ident","ident":{"fw_version":"1.0.2","fw_build":"71",`+
		`"hw_version":"2.1","manufacturer_id":"QCX","product_id":"%s","unit_id":"%s"}}`,
		productID, uid)
}

// serveDevice plays one virtual device connection: identity out, initial
// vector exchange, then decrypt requests and answer via reply. It returns
// the decrypted requests seen before the host closed the connection.
func serveDevice(t *testing.T, conn net.Conn, uid, productID string, key []byte, reply func(request string) string) []string {
	t.Helper()
	defer conn.Close()

	frame, err := qcx.EncodeFrame(qcx.FrameIdentity, []byte(identityJSON(uid, productID)))
	require.NoError(t, err)
	if _, err := conn.Write(frame); err != nil {
		return nil
	}

	localIV, err := qcx.NewLocalIV()
	require.NoError(t, err)

	var requests []string
	var reader qcx.FrameReader
	var session *qcx.Session
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			return requests
		}
		reader.Feed(buf[:n])
		for {
			f, ferr := reader.Next()
			require.NoError(t, ferr)
			if f == nil {
				break
			}
			switch f.Type {
			case qcx.FrameIV:
				session, err = qcx.NewSession(key, localIV, f.Data)
				require.NoError(t, err)
				ivFrame, err := qcx.EncodeFrame(qcx.FrameIV, localIV)
				require.NoError(t, err)
				if _, err := conn.Write(ivFrame); err != nil {
					return requests
				}
			case qcx.FrameData:
				require.NotNil(t, session, "data frame before handshake")
				plain, err := session.Decrypt(f.Data)
				require.NoError(t, err)
				requests = append(requests, string(plain))
				if answer := reply(string(plain)); answer != "" {
					dataFrame, err := qcx.EncodeFrame(qcx.FrameData, session.Encrypt([]byte(answer)))
					require.NoError(t, err)
					if _, err := conn.Write(dataFrame); err != nil {
						return requests
					}
				}
			}
		}
	}
}

// A queued color command reaches the lamp as exactly one data frame with
// the documented JSON shape, and its answer completes the message.
func TestSendColorCommandEndToEnd(t *testing.T) {
	const (
		uid       = "00ac629de9ad2f4409dc"
		productID = "@klyqa.lighting.rgb-cw-ww.e27"
		keyHex    = "e901f036a5a119a91ca1f30ef5c207d6"
	)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	data := controller.NewControllerData()
	require.NoError(t, data.AddAESKey(uid, keyHex))
	h := newTestHandler(t, data)

	served := make(chan []string, 1)
	go func() {
		conn := dialFrom(t, h, "")
		served <- serveDevice(t, conn, uid, productID, key, func(string) string {
			return `{"type":"status","status":"on","color":{"red":2,"green":22,"blue":222}}`
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := h.SendMessage(ctx, uid, 5*time.Second, device.ColorCommand{
		Color:          device.RGBColor{Red: 2, Green: 22, Blue: 222},
		TransitionTime: 4000,
	})
	require.NoError(t, err)

	assert.Equal(t, controller.MessageAnswered, msg.State())
	answer := msg.AnswerJSON()
	require.NotNil(t, answer)
	assert.Contains(t, answer, "color")

	requests := <-served
	require.Len(t, requests, 1)
	assert.Equal(t,
		`{"type":"request","color":{"red":2,"green":22,"blue":222},"transitionTime":4000}`,
		requests[0])

	dev, ok := data.Device(uid)
	require.True(t, ok)
	status, ok := dev.Status().(*device.LightStatus)
	require.True(t, ok)
	assert.Equal(t, device.RGBColor{Red: 2, Green: 22, Blue: 222}, *status.Snapshot().Color)

	// The answered exchange shows up in the latency stats.
	snapshot := h.AnswerStats().Snapshot()
	require.Contains(t, snapshot, "ColorCommand")
	assert.Equal(t, int64(1), snapshot["ColorCommand"].Samples)
	assert.Positive(t, snapshot["ColorCommand"].Mean)
	assert.Contains(t, h.Stats(), "ColorCommand: samples=1")
}

// Discovery registers the device and the broadcast ping is answered
// exactly once per device.
func TestDiscoverSingleDevice(t *testing.T) {
	const (
		uid       = "29daa5a4439969f57934"
		productID = "@klyqa.lighting.cw-ww.e14"
		keyHex    = "53b962431abc7af6ef84b43802994424"
	)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	data := controller.NewControllerData()
	require.NoError(t, data.AddAESKey(uid, keyHex))
	h := newTestHandler(t, data)

	served := make(chan []string, 1)
	go func() {
		conn := dialFrom(t, h, "")
		served <- serveDevice(t, conn, uid, productID, key, func(string) string {
			return `{"type":"status","status":"on","mode":"cct"}`
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := h.Discover(ctx, 2500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, controller.MessageAnswered, msg.State())
	assert.Equal(t, 1, msg.DeliveredCount())
	assert.True(t, msg.DeliveredTo(uid))

	requests := <-served
	require.Len(t, requests, 1)
	assert.Equal(t, `{"type":"ping"}`, requests[0])

	dev, ok := data.Device(uid)
	require.True(t, ok)
	assert.Contains(t, dev.ProductID(), "@klyqa.lighting.")
}

// A broadcast request reaches each online device at most once.
func TestBroadcastToManyDevices(t *testing.T) {
	type lamp struct {
		uid string
		ip  string
	}
	lamps := []lamp{
		{uid: "aaaaaaaaaaaaaaaaaaa1", ip: "127.0.0.1"},
		{uid: "aaaaaaaaaaaaaaaaaaa2", ip: "127.0.0.2"},
		{uid: "aaaaaaaaaaaaaaaaaaa3", ip: "127.0.0.3"},
	}
	const keyHex = "53b962431abc7af6ef84b43802994424"
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	data := controller.NewControllerData()
	for _, l := range lamps {
		require.NoError(t, data.AddAESKey(l.uid, keyHex))
	}
	h := newTestHandler(t, data)

	served := make(chan []string, len(lamps))
	for _, l := range lamps {
		go func() {
			conn := dialFrom(t, h, l.ip)
			served <- serveDevice(t, conn, l.uid, "@klyqa.lighting.cw-ww.e14", key, func(string) string {
				return `{"type":"status","status":"off"}`
			})
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := h.SendMessage(ctx, controller.BroadcastUID, 4*time.Second, device.RequestCommand{})
	require.NoError(t, err)
	require.True(t, msg.IsBroadcast())

	assert.Eventually(t, func() bool { return msg.DeliveredCount() == len(lamps) },
		3*time.Second, 20*time.Millisecond, "every device gets the broadcast")
	for _, l := range lamps {
		assert.True(t, msg.DeliveredTo(l.uid))
	}

	for range lamps {
		requests := <-served
		require.Len(t, requests, 1, "each device sees the request exactly once")
		assert.Equal(t, `{"type":"request"}`, requests[0])
	}
}

// With no device online the TTL expires the message: the callback fires
// once with an empty answer and SendMessage returns.
func TestTTLExpiryWithoutDevice(t *testing.T) {
	data := controller.NewControllerData()
	h := newTestHandler(t, data)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	msg, err := h.SendMessage(ctx, "deadbeefdeadbeefdead", 700*time.Millisecond, device.PingCommand{})
	require.NoError(t, err)

	assert.Equal(t, controller.MessageUnsent, msg.State())
	assert.Nil(t, msg.AnswerJSON())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond)
}

// A malformed identity terminates only that connection; nothing is
// registered and the dispatcher keeps accepting.
func TestMalformedIdentity(t *testing.T) {
	data := controller.NewControllerData()
	h := newTestHandler(t, data)

	resultCh := make(chan error, 1)
	go func() {
		_, err := h.SendMessage(context.Background(), "feedfacefeedfacefeed", 1500*time.Millisecond, device.PingCommand{})
		resultCh <- err
	}()

	conn := dialFrom(t, h, "")
	defer conn.Close()
	frame, err := qcx.EncodeFrame(qcx.FrameIdentity, []byte("not-json"))
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Error(t, err, "host closes the connection without an initial vector")

	assert.Empty(t, data.Devices(), "no device registered from a bad identity")
	require.NoError(t, <-resultCh, "dispatcher keeps running; the message just expires")
}

// Without an AES key the connection fails after the vector exchange and
// the queued message surfaces the error instead of hanging until TTL.
func TestMissingAESKey(t *testing.T) {
	const uid = "00ac629de9ad2f4409dc"
	data := controller.NewControllerData()
	h := newTestHandler(t, data)

	go func() {
		conn := dialFrom(t, h, "")
		defer conn.Close()
		frame, _ := qcx.EncodeFrame(qcx.FrameIdentity, []byte(identityJSON(uid, "@klyqa.lighting.cw-ww.e14")))
		conn.Write(frame)
		// Read the host vector and answer with our own.
		var reader qcx.FrameReader
		buf := make([]byte, 256)
		for {
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			reader.Feed(buf[:n])
			f, err := reader.Next()
			if err != nil || f == nil {
				continue
			}
			if f.Type == qcx.FrameIV {
				iv, _ := qcx.NewLocalIV()
				ivFrame, _ := qcx.EncodeFrame(qcx.FrameIV, iv)
				conn.Write(ivFrame)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	msg, err := h.SendMessage(ctx, uid, 30*time.Second, device.PingCommand{})
	require.NoError(t, err)

	assert.Error(t, msg.Err())
	assert.Equal(t, controller.MessageUnsent, msg.State())
	assert.Less(t, time.Since(start), 5*time.Second, "failure is surfaced well before the TTL")
}

// Two messages for the same device are served in enqueue order across
// connections, both answered; the use-lock never deadlocks.
func TestTwoMessagesSameDevice(t *testing.T) {
	const (
		uid    = "00ac629de9ad2f4409dc"
		keyHex = "e901f036a5a119a91ca1f30ef5c207d6"
	)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	data := controller.NewControllerData()
	require.NoError(t, data.AddAESKey(uid, keyHex))
	h := newTestHandler(t, data)

	var requests []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		// The host closes each connection after one answered message, so
		// keep reconnecting until both messages were served.
		for attempt := 0; attempt < 20 && len(requests) < 2; attempt++ {
			conn, err := net.DialTimeout("tcp", listenTarget(h), 2*time.Second)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			served := serveDevice(t, conn, uid, "@klyqa.lighting.rgb-cw-ww.e27", key, func(string) string {
				return `{"type":"status","status":"on"}`
			})
			requests = append(requests, served...)
			if len(served) == 0 {
				// Nothing was queued for this device yet, so the host ended
				// the connection right after the identity; back off so the
				// attempts outlast the gap before the second enqueue.
				time.Sleep(50 * time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	type result struct {
		msg *controller.Message
		err error
	}
	first := make(chan result, 1)
	go func() {
		msg, err := h.SendMessage(ctx, uid, 10*time.Second, device.PowerCommand{Status: "on"})
		first <- result{msg, err}
	}()
	time.Sleep(100 * time.Millisecond)
	second := make(chan result, 1)
	go func() {
		msg, err := h.SendMessage(ctx, uid, 10*time.Second, device.PowerCommand{Status: "off"})
		second <- result{msg, err}
	}()

	r1 := <-first
	r2 := <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, controller.MessageAnswered, r1.msg.State())
	assert.Equal(t, controller.MessageAnswered, r2.msg.State())

	<-done
	require.Len(t, requests, 2)
	assert.Equal(t, `{"type":"request","status":"on"}`, requests[0], "enqueue order preserved")
	assert.Equal(t, `{"type":"request","status":"off"}`, requests[1])
}

// A failed value check drops the message without sending and surfaces the
// error through the callback.
func TestValueCheckDropsMessage(t *testing.T) {
	const (
		uid    = "00ac629de9ad2f4409dc"
		keyHex = "e901f036a5a119a91ca1f30ef5c207d6"
	)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	data := controller.NewControllerData()
	require.NoError(t, data.AddAESKey(uid, keyHex))
	h := newTestHandler(t, data)

	served := make(chan []string, 1)
	go func() {
		conn := dialFrom(t, h, "")
		served <- serveDevice(t, conn, uid, "@klyqa.lighting.rgb-cw-ww.e27", key, func(string) string {
			return `{"type":"status"}`
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := h.SendMessage(ctx, uid, 5*time.Second, device.ColorCommand{
		Color: device.RGBColor{Red: 256, Green: 0, Blue: 0},
	})
	require.NoError(t, err)

	assert.Error(t, msg.Err())
	assert.Equal(t, controller.MessageUnsent, msg.State())
	assert.Empty(t, <-served, "nothing was sent to the device")
}
