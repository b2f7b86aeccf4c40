package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/storyweave/collab/internal/stats"
	"github.com/storyweave/collab/internal/types"
)

const (
	StatActiveConnections = "ActiveConnections"
	StatActiveRooms       = "ActiveRooms"
	StatActiveLocks       = "ActiveLocks"
	StatMessagesRelayed   = "MessagesRelayed"
	StatLocksGranted      = "LocksGranted"
	StatLocksDenied       = "LocksDenied"
)

// LockPolicy bounds caller-supplied lock durations.
type LockPolicy struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

type registerReq struct {
	roomId string
	client *Client
}

type participantsReq struct {
	roomId string
	resp   chan []types.Participant
}

// CollabServer is the process-wide room registry. A single goroutine owns
// the room table, so get-or-create and remove-if-empty are atomic with
// respect to each other and to concurrent joins. It also drives the lock
// expiry sweeper across all live rooms.
type CollabServer struct {
	log              *log.Logger
	stats            stats.StatsProvider
	lockPolicy       LockPolicy
	sweepInterval    time.Duration
	registerChan     chan registerReq
	deregisterChan   chan *Client
	unloadRoomChan   chan string
	participantsChan chan participantsReq
	rooms            map[string]*Room
	clients          map[*Client]struct{}
	clientsLock      sync.Mutex
	stop             chan struct{}
	done             chan struct{}
}

func NewCollabServer(logger *log.Logger, st stats.StatsProvider, policy LockPolicy, sweepInterval time.Duration) (*CollabServer, error) {
	cs := &CollabServer{
		log:              logger,
		stats:            st,
		lockPolicy:       policy,
		sweepInterval:    sweepInterval,
		registerChan:     make(chan registerReq, 256),
		deregisterChan:   make(chan *Client, 256),
		unloadRoomChan:   make(chan string, 256),
		participantsChan: make(chan participantsReq),
		rooms:            make(map[string]*Room),
		clients:          make(map[*Client]struct{}),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	for _, name := range []string{
		StatActiveConnections,
		StatActiveRooms,
		StatActiveLocks,
		StatMessagesRelayed,
		StatLocksGranted,
		StatLocksDenied,
	} {
		st.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *CollabServer) Run() {
	sweepTicker := time.NewTicker(cs.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case req := <-cs.registerChan:
			cs.handleRegister(req)
		case client := <-cs.deregisterChan:
			cs.handleDeregister(client)
		case roomId := <-cs.unloadRoomChan:
			cs.unloadRoom(roomId)
		case req := <-cs.participantsChan:
			if r, ok := cs.rooms[req.roomId]; ok {
				select {
				case r.snapshotChan <- req.resp:
				default:
					req.resp <- nil
				}
			} else {
				req.resp <- nil
			}
		case <-sweepTicker.C:
			for _, r := range cs.rooms {
				select {
				case r.sweepChan <- struct{}{}:
				default:
					// sweep already pending for this room
				}
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				done := make(chan struct{})
				r.exit <- exitReq{done: done}
				<-done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *CollabServer) handleRegister(req registerReq) {
	room, ok := cs.rooms[req.roomId]
	if !ok {
		room = newRoom(req.roomId, cs)
		cs.rooms[req.roomId] = room
		cs.stats.Incr(StatActiveRooms)
		go room.start()
	}

	req.client.setRoom(room)

	select {
	case room.joinChan <- req.client:
		cs.addClient(req.client)
		cs.stats.Incr(StatActiveConnections)
	default:
		cs.log.Printf("join channel full on room %q, dropping connection %q",
			room.id, req.client.participant.ConnectionId)
		req.client.stopClient()
	}
}

// Register hands a freshly-upgraded connection to its room, creating the
// room when it does not exist yet.
func (cs *CollabServer) Register(roomId string, c *Client) {
	select {
	case <-cs.done:
		// a post-shutdown register must not land in the buffer
		c.stopClient()
		return
	default:
	}

	select {
	case cs.registerChan <- registerReq{roomId: roomId, client: c}:
	case <-cs.done:
		c.stopClient()
	}
}

func (cs *CollabServer) deregister(c *Client) {
	select {
	case cs.deregisterChan <- c:
	case <-cs.done:
	}
}

// RoomParticipants returns a point-in-time participant snapshot for a room,
// or nil when the room is not live.
func (cs *CollabServer) RoomParticipants(roomId string) []types.Participant {
	resp := make(chan []types.Participant, 1)
	select {
	case cs.participantsChan <- participantsReq{roomId: roomId, resp: resp}:
		return <-resp
	case <-cs.done:
		return nil
	}
}

func (cs *CollabServer) unloadRoom(roomId string) {
	r, ok := cs.rooms[roomId]
	if !ok {
		return
	}

	cs.log.Printf("unloading room %q", roomId)
	delete(cs.rooms, roomId)
	cs.stats.Decr(StatActiveRooms)

	done := make(chan struct{})
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *CollabServer) clampLockDuration(minutes int) time.Duration {
	if minutes == 0 {
		return cs.lockPolicy.Default
	}

	d := time.Duration(minutes) * time.Minute
	if d < cs.lockPolicy.Min {
		return cs.lockPolicy.Min
	}
	if d > cs.lockPolicy.Max {
		return cs.lockPolicy.Max
	}
	return d
}

func (cs *CollabServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

// handleDeregister untracks a client. A client dropped before it was ever
// admitted (full join channel) was never counted, so the connection counter
// only moves when the client was actually tracked.
func (cs *CollabServer) handleDeregister(c *Client) {
	if cs.removeClient(c) {
		cs.stats.Decr(StatActiveConnections)
	}
}

func (cs *CollabServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return false
	}

	delete(cs.clients, c)
	return true
}

func (cs *CollabServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
