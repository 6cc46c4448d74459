package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/kds"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
	writeWait  = 5 * time.Second
)

// Remote is a ChangeSignal over the store's websocket hub. Store-side
// changes and changes published by other devices arrive as Change values
// whose Origin is the publisher; Publish sends through the hub to everyone
// else. Call Run to keep the connection up. Token is asked for a credential
// on every dial, so a refreshed login is picked up on reconnect.
type Remote struct {
	URL    string
	Token  func() string
	Dialer *websocket.Dialer
	Logger logrus.FieldLogger

	bus *Bus

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewRemote(wsURL string, token func() string) *Remote {
	return &Remote{
		URL:    wsURL,
		Token:  token,
		Dialer: websocket.DefaultDialer,
		Logger: logrus.StandardLogger().WithField("component", "signal_remote"),
		bus:    NewBus(),
	}
}

func (r *Remote) Subscribe(origin string, fn func(Change)) func() {
	return r.bus.Subscribe(origin, fn)
}

// Publish is best effort; while disconnected the change is dropped.
func (r *Remote) Publish(ch Change) {
	data, err := json.Marshal(ch)
	if err != nil {
		r.Logger.WithError(err).Warn("encode change")
		return
	}
	msg, _ := json.Marshal(kds.Message{Event: kds.EventClientChange, Origin: ch.Origin, Data: data})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := r.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		r.Logger.WithError(err).Warn("publish change")
	}
}

// Connected reports whether a hub connection is currently open.
func (r *Remote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Run dials the hub and pumps messages until ctx is done, reconnecting with
// exponential backoff.
func (r *Remote) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = minBackoff
		}
		r.Logger.WithError(err).WithField("retry_in", backoff).Warn("hub connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *Remote) session(ctx context.Context) (bool, error) {
	target, err := url.Parse(r.URL)
	if err != nil {
		return false, err
	}
	q := target.Query()
	if r.Token != nil {
		if token := r.Token(); token != "" {
			q.Set("token", token)
		}
	}
	target.RawQuery = q.Encode()

	conn, _, err := r.Dialer.DialContext(ctx, target.String(), http.Header{})
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.Logger.WithField("url", r.URL).Info("connected to change hub")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var msg kds.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.Logger.WithError(err).Debug("skip malformed hub message")
			continue
		}
		ch := Change{Origin: msg.Origin}
		if msg.Event == kds.EventClientChange && len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &ch); err != nil {
				ch = Change{Origin: msg.Origin}
			}
		}
		r.bus.Publish(ch)
	}
}
