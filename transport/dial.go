package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultConnectTimeout bounds how long Dial waits for the websocket handshake
// to complete before giving up.
const DefaultConnectTimeout = 5 * time.Second

// ErrConnectTimeout is returned (wrapped) when no open or error signal arrives
// within the connect window. A synchronous refusal surfaces as a plain dial
// error instead; whichever happens first decides the outcome.
var ErrConnectTimeout = errors.New("connect timed out")

// Dial connects to a websocket URL with the default connect timeout.
func Dial(url string) (*Conn, error) {
	return DialTimeout(url, DefaultConnectTimeout)
}

// DialTimeout connects to a websocket URL, failing with ErrConnectTimeout if
// the handshake does not settle within timeout.
func DialTimeout(url string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	ws, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("dial %s: %w", url, ErrConnectTimeout)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newConn(ws), nil
}

// Accept wraps an already-upgraded server-side websocket connection. Exposed
// for hosts that run their own upgrade path instead of the Acceptor.
func Accept(ws *websocket.Conn) *Conn {
	return newConn(ws)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
