package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
)

// WSFeed subscribes to a broker's asynchronous order lifecycle feed
// over a websocket connection (the optional order_feed capability),
// translating raw frames into FeedEvent values on a buffered channel.
// Adapters that expose a feed embed one of these and implement
// FeedSubscriber by delegating to Subscribe.
type WSFeed struct {
	url string
	log *logger.Entry
}

func NewWSFeed(url string, log *logger.Entry) *WSFeed {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &WSFeed{url: url, log: log.WithField("component", "broker.WSFeed")}
}

type wsFrame struct {
	BrokerOrderID string `json:"order_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// Subscribe dials the feed and streams decoded FeedEvents until ctx is
// cancelled or the connection drops. The returned channel is closed on
// either condition; callers select on it alongside ctx.Done().
func (f *WSFeed) Subscribe(ctx context.Context, session Session) (<-chan FeedEvent, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: dial order feed: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"auth": session.Token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: authenticate order feed: %w", err)
	}

	events := make(chan FeedEvent, 64)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				f.log.WithError(err).Warn("order feed connection closed")
				return
			}

			select {
			case events <- FeedEvent{
				BrokerOrderID: frame.BrokerOrderID,
				Status:        decodeFrameStatus(frame.Status),
				Message:       frame.Message,
				At:            time.Now(),
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func decodeFrameStatus(raw string) model.LegStatus {
	switch raw {
	case "filled":
		return model.LegFilled
	case "accepted":
		return model.LegAccepted
	case "rejected":
		return model.LegRejected
	case "cancelled":
		return model.LegCancelled
	default:
		return model.LegError
	}
}
