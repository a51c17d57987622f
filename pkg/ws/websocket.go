package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("ws is closed")

const writeWait = 10 * time.Second

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Message struct {
	MsgType int
	Message []byte
}

// Client owns one connection. Writes go through a single goroutine; reads are
// delivered on Read until the peer goes away.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeChan chan *Message
	readChan  chan *Message

	closed bool
	lock   sync.Mutex
}

// NewClient starts the read and write loops. done is closed once the write
// loop exits.
func NewClient(conn *websocket.Conn, logger *slog.Logger) (client *Client, done chan struct{}) {
	client = &Client{
		conn:   conn,
		logger: logger,

		writeChan: make(chan *Message, 16),
		readChan:  make(chan *Message),
	}

	metrics.WebSocketConnections.Inc()

	done = make(chan struct{})

	go func() {
		defer close(client.readChan)
		defer client.Close()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("ws read failed", "err", err)
				}
				return
			}

			client.readChan <- &Message{MsgType: msgType, Message: data}
		}
	}()

	go func() {
		defer close(done)
		defer func() {
			for range client.writeChan {
			}
		}()

		for msg := range client.writeChan {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(msg.MsgType, msg.Message); err != nil {
				logger.Warn("ws write failed", "err", err)
				metrics.WriteErrors.Inc()
				// the read loop notices and closes the client
				_ = conn.Close()
				return
			}
		}
	}()

	return client, done
}

func (ws *Client) Close() error {
	ws.lock.Lock()
	defer ws.lock.Unlock()

	if ws.closed {
		return nil
	}

	metrics.WebSocketConnections.Dec()
	ws.closed = true
	close(ws.writeChan)

	return ws.conn.Close()
}

func (ws *Client) Send(msg *Message) error {
	ws.lock.Lock()
	defer ws.lock.Unlock()

	if ws.closed {
		return ErrClosed
	}

	ws.writeChan <- msg

	return nil
}

// SendJSON encodes v as a text frame.
func (ws *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal ws message: %w", err)
	}
	return ws.Send(&Message{MsgType: websocket.TextMessage, Message: data})
}

func (ws *Client) Read() (*Message, error) {
	msg, ok := <-ws.readChan
	if !ok {
		return nil, ErrClosed
	}

	return msg, nil
}

// DrainRead discards incoming frames until the connection closes. Progress
// streams only write, but the read loop must run to notice a disconnect.
func (ws *Client) DrainRead() {
	for {
		if _, err := ws.Read(); err != nil {
			return
		}
	}
}
