package airdcpp

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/mohammad-safakhou/comicsearch/internal/correlation"
)

// Sink receives decoded events. Deliver should hand the event off rather than process it.
type Sink interface {
	Deliver(ctx context.Context, ev correlation.Event) error
}

// Listener keeps one websocket connection to the web API open and forwards search events
// to the sink, reconnecting with exponential backoff.
type Listener struct {
	conn       Conn
	sink       Sink
	logger     *log.Logger
	maxBackoff time.Duration
	dialer     ws.Dialer
}

func NewListener(conn Conn, sink Sink, logger *log.Logger, maxBackoff time.Duration) *Listener {
	if logger == nil {
		logger = log.New(log.Writer(), "[AIRDCPP] ", log.LstdFlags)
	}
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}
	header := http.Header{}
	if conn.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(conn.Username + ":" + conn.Password))
		header.Set("Authorization", "Basic "+token)
	}
	return &Listener{
		conn:       conn,
		sink:       sink,
		logger:     logger,
		maxBackoff: maxBackoff,
		dialer:     ws.Dialer{Timeout: 10 * time.Second, Header: ws.HandshakeHeaderHTTP(header)},
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	target, err := socketURL(l.conn.BaseURL)
	if err != nil {
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = l.maxBackoff
	bo.MaxElapsedTime = 0

	for {
		err := l.session(ctx, target, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		l.logger.Printf("warn: event connection to %s lost: %v; reconnecting in %s", target, err, wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) session(ctx context.Context, target string, connected func()) error {
	netConn, br, _, err := l.dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer netConn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = netConn.Close()
		case <-stop:
		}
	}()

	rw := readWriter(netConn, br)
	if err := l.subscribe(rw); err != nil {
		return err
	}
	connected()
	l.logger.Printf("listening for search events on %s", target)

	for {
		raw, _, err := wsutil.ReadServerData(rw)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, ok, err := DecodeEvent(raw)
		if err != nil {
			l.logger.Printf("warn: skipping frame: %v", err)
			continue
		}
		if !ok {
			l.logReply(raw)
			continue
		}
		if err := l.sink.Deliver(ctx, ev); err != nil {
			return fmt.Errorf("deliver %s for %s: %w", ev.Kind, ev.InstanceID, err)
		}
	}
}

func (l *Listener) subscribe(w io.Writer) error {
	callback := 1
	if l.conn.Username != "" {
		auth := request{
			CallbackID: callback,
			Method:     http.MethodPost,
			Path:       "sessions/authorize",
			Data:       map[string]string{"username": l.conn.Username, "password": l.conn.Password},
		}
		if err := writeRequest(w, auth); err != nil {
			return err
		}
		callback++
	}
	for _, path := range Subscriptions {
		if err := writeRequest(w, request{CallbackID: callback, Method: http.MethodPost, Path: path}); err != nil {
			return err
		}
		callback++
	}
	return nil
}

func (l *Listener) logReply(raw []byte) {
	var f frame
	if json.Unmarshal(raw, &f) != nil || f.CallbackID == 0 {
		return
	}
	if f.Code >= 400 || f.Error != nil {
		msg := ""
		if f.Error != nil {
			msg = f.Error.Message
		}
		l.logger.Printf("error: request %d rejected with code %d: %s", f.CallbackID, f.Code, msg)
	}
}

func writeRequest(w io.Writer, req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := wsutil.WriteClientText(w, data); err != nil {
		return fmt.Errorf("send %s: %w", req.Path, err)
	}
	return nil
}

// readWriter reads through the handshake buffer when the server sent frames with it.
func readWriter(conn net.Conn, br *bufio.Reader) io.ReadWriter {
	if br == nil {
		return conn
	}
	return struct {
		io.Reader
		io.Writer
	}{br, conn}
}

func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/"
	return u.String(), nil
}
