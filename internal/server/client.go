package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/storyweave/collab/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client adapts one websocket connection to a room participant. The room
// reaches the remote peer only through queueMessage; transport details stay
// on this side of the boundary.
type Client struct {
	conn        *websocket.Conn
	cs          *CollabServer
	log         *log.Logger
	participant types.Participant
	send        chan *Message
	roomLock    sync.RWMutex
	room        *Room
	stop        chan struct{}
	stopOnce    sync.Once
	closeOnce   sync.Once
}

func NewClient(p types.Participant, conn *websocket.Conn, cs *CollabServer, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		cs:          cs,
		log:         l,
		participant: p,
		send:        make(chan *Message, sendQueueSize),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		msg, err := DecodeClientMessage(raw)
		if err != nil {
			// drop the frame, tell only the sender, keep the connection
			if errors.Is(err, ErrMalformedMessage) {
				c.log.Printf("malformed message from %q: %v", c.participant.ConnectionId, err)
				c.queueMessage(ErrMalformed())
				continue
			}
			c.log.Printf("decode: %v", err)
			continue
		}

		r := c.getRoom()
		if r == nil {
			// inbound frame raced the registry handshake
			c.queueMessage(ErrUnavailable())
			continue
		}

		select {
		case r.msgChan <- &inboundMessage{client: c, msg: msg}:
		default:
			c.log.Printf("message channel full for room %q", r.id)
			c.queueMessage(ErrUnavailable())
		}
	}
}

// queueMessage hands a message to the write pump without blocking. A full
// queue means the consumer is too slow; the caller decides whether that is
// fatal for the connection.
func (c *Client) queueMessage(msg *Message) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send queue full for %q", c.participant.ConnectionId)
		return false
	}

	return true
}

func serializeMessage(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeFrame(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup tears the participant down exactly once, whether the close was
// local, remote, or an error on either pump.
func (c *Client) cleanup() {
	c.closeOnce.Do(func() {
		c.cs.deregister(c)
		c.leaveRoom()
		c.stopClient()
	})
}

func (c *Client) leaveRoom() {
	r := c.getRoom()
	if r == nil {
		return
	}

	select {
	case r.leaveChan <- c:
	case <-r.done:
		// room already shut down, nothing left to leave
	}
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}
