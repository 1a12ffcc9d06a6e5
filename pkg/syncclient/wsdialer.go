package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	wstransport "github.com/mikeyoung304/expo-sync/internal/transport/ws"
)

const (
	defaultReadTimeout  = 45 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// WSDialer dials the order gateway over websocket, presenting a bearer
// token and falling back to a device token when both are set.
type WSDialer struct {
	URL         string
	BearerToken string
	DeviceToken string
	ReadTimeout time.Duration

	Dialer *websocket.Dialer
}

// Dial implements Dialer. A handshake refused with 401 or 403 maps to
// ErrRejected since retrying with the same credentials cannot succeed.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if d.BearerToken != "" {
		header.Set("Authorization", "Bearer "+d.BearerToken)
	}
	if d.DeviceToken != "" {
		header.Set("X-Device-Token", d.DeviceToken)
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	sock, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake returned %d", ErrRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &wsConn{sock: sock, readTimeout: readTimeout}, nil
}

// wsConn adapts a gorilla connection to the Conn interface and turns
// gateway close codes into the coordinator's sentinel errors.
type wsConn struct {
	sock        *websocket.Conn
	readTimeout time.Duration
}

func (c *wsConn) ReadEnvelope() (wstransport.Envelope, error) {
	_ = c.sock.SetReadDeadline(time.Now().Add(c.readTimeout))
	var env wstransport.Envelope
	if err := c.sock.ReadJSON(&env); err != nil {
		return wstransport.Envelope{}, translateCloseError(err)
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(env wstransport.Envelope) error {
	_ = c.sock.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.sock.WriteJSON(env)
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.sock.Close()
}

func translateCloseError(err error) error {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return err
	}
	switch closeErr.Code {
	case websocket.ClosePolicyViolation:
		return fmt.Errorf("%w: %s", ErrRejected, closeErr.Text)
	case websocket.CloseServiceRestart:
		return fmt.Errorf("%w: %s", ErrServerShutdown, closeErr.Text)
	case websocket.CloseTryAgainLater:
		return fmt.Errorf("%w: %s", ErrResyncRequired, closeErr.Text)
	default:
		return err
	}
}
