package attemptclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	ws "github.com/stemsi/lingua-attempt/internal/websocket"
)

// WatchAttempt opens the attempt's event stream. The returned channel is
// closed when ctx is done, the server closes the stream, or a terminal
// (graded) event has been delivered.
func (c *Client) WatchAttempt(ctx context.Context, attemptID uuid.UUID) (<-chan ws.AttemptEvent, error) {
	u, err := c.streamURL(attemptID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial attempt stream: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial attempt stream: %w", err)
	}

	events := make(chan ws.AttemptEvent, 8)
	log := c.log.With().Str("attempt_id", attemptID.String()).Logger()

	// Unblock the reader when the caller goes away.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(events)
		defer stop()
		defer conn.Close()

		for {
			var ev ws.AttemptEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Msg("Attempt stream closed unexpectedly")
				}
				return
			}
			if ev.Event == ws.EventPong {
				continue
			}
			if ev.Event == ws.EventError {
				log.Warn().Str("error", ev.Error).Msg("Attempt stream reported an error")
				return
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
		}
	}()

	return events, nil
}

func (c *Client) streamURL(attemptID uuid.UUID) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/v1/learner/attempts/" + attemptID.String() + "/stream"
	q := u.Query()
	q.Set("token", c.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
