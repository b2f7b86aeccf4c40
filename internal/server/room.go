package server

import (
	"log"
	"time"

	"github.com/storyweave/collab/internal/types"
)

// idleRoomTimeout is how long an empty room lingers before asking the
// registry to unload it. Joins arriving in the window stop the timer.
const idleRoomTimeout = 10 * time.Second

type inboundMessage struct {
	client *Client
	msg    *Message
}

type exitReq struct {
	done chan struct{}
}

// unitLock is one entry in the room's lock table. A lock is valid iff
// now < expiresAt; expired entries are logically absent and every reader
// re-checks expiry at time of use rather than trusting the sweeper.
type unitLock struct {
	holder     string
	acquiredAt time.Time
	expiresAt  time.Time
}

// Room owns all mutable state for one collaboration session. Every mutation
// runs on the room's own goroutine, so participants and locks need no
// additional locking and broadcasts always observe a consistent snapshot.
type Room struct {
	id           string
	cs           *CollabServer
	joinChan     chan *Client
	leaveChan    chan *Client
	msgChan      chan *inboundMessage
	sweepChan    chan struct{}
	snapshotChan chan chan []types.Participant
	participants map[string]*Client
	locks        map[string]*unitLock
	log          *log.Logger
	killTimer    *time.Timer
	exit         chan exitReq
	// done is closed when the room goroutine exits
	done chan struct{}
}

func newRoom(id string, cs *CollabServer) *Room {
	return &Room{
		id:           id,
		cs:           cs,
		joinChan:     make(chan *Client, 256),
		leaveChan:    make(chan *Client, 256),
		msgChan:      make(chan *inboundMessage, 256),
		sweepChan:    make(chan struct{}, 1),
		snapshotChan: make(chan chan []types.Participant),
		participants: make(map[string]*Client),
		locks:        make(map[string]*unitLock),
		log:          cs.log,
		exit:         make(chan exitReq),
		done:         make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case in := <-r.msgChan:
			r.route(in.client, in.msg)
		case <-r.sweepChan:
			r.sweepExpiredLocks()
		case resp := <-r.snapshotChan:
			resp <- r.participantList()
		case <-r.killTimer.C:
			r.handleIdleTimeout()
		case e := <-r.exit:
			r.handleExit(e)
			return
		}
	}
}

func (r *Room) handleJoin(c *Client) {
	r.killTimer.Stop()

	connId := c.participant.ConnectionId
	if _, ok := r.participants[connId]; ok {
		// duplicate connection ids indicate a broken session controller,
		// not a client mistake
		r.log.Printf("BUG: duplicate connection id %q in room %q, dropping connection", connId, r.id)
		c.stopClient()
		if len(r.participants) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	// the joiner sees the pre-join participant snapshot plus the live
	// lock table, then everyone (joiner included) gets the new roster
	c.queueMessage(newInitialState(r.participantList(), r.lockSnapshot()))

	r.participants[connId] = c
	r.log.Printf("participant %q (user %d) joined room %q", connId, c.participant.UserId, r.id)

	r.broadcast(newPresenceUpdate(r.participantList()), nil)
}

func (r *Room) handleLeave(c *Client) {
	connId := c.participant.ConnectionId
	cur, ok := r.participants[connId]
	if !ok || cur != c {
		// already gone, leaving twice is a no-op
		return
	}

	delete(r.participants, connId)
	r.log.Printf("participant %q left room %q", connId, r.id)

	r.releaseLocksHeldBy(c.participant)
	r.broadcast(newPresenceUpdate(r.participantList()), nil)

	if len(r.participants) == 0 {
		r.log.Printf("no participants in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// route dispatches one decoded client message. Relay kinds pass through
// opaquely with the sender stamped from the connection; lock kinds mutate
// the lock table.
func (r *Room) route(c *Client, msg *Message) {
	switch msg.Kind {
	case KindEdit, KindCursorMove, KindChat, KindComment:
		out := *msg
		out.Sender = &c.participant
		out.Timestamp = Now()
		r.broadcast(&out, c)
		r.cs.stats.Incr(StatMessagesRelayed)
	case KindLockAcquire:
		r.handleLockAcquire(c, msg)
	case KindLockRelease:
		r.handleLockRelease(c, msg)
	default:
		// the codec rejects anything else before it reaches the room
		r.log.Printf("unroutable kind %q from %q", msg.Kind, c.participant.ConnectionId)
	}
}

func (r *Room) handleLockAcquire(c *Client, msg *Message) {
	unitId := msg.UnitId
	duration := r.cs.clampLockDuration(msg.DurationMinutes)
	now := Now()

	if l, ok := r.locks[unitId]; ok && now.Before(l.expiresAt) && l.holder != c.participant.ConnectionId {
		holder := types.Participant{ConnectionId: l.holder}
		if p, ok := r.participants[l.holder]; ok {
			holder = p.participant
		}
		c.queueMessage(ErrLockDenied(unitId, holder, l.expiresAt))
		r.cs.stats.Incr(StatLocksDenied)
		return
	}

	// unlocked, expired, or a refresh by the current holder
	_, existed := r.locks[unitId]
	r.locks[unitId] = &unitLock{
		holder:     c.participant.ConnectionId,
		acquiredAt: now,
		expiresAt:  now.Add(duration),
	}
	if !existed {
		r.cs.stats.Incr(StatActiveLocks)
	}
	r.cs.stats.Incr(StatLocksGranted)

	r.broadcast(newLockNotice(KindLockAcquire, unitId, c.participant, now.Add(duration)), nil)
}

func (r *Room) handleLockRelease(c *Client, msg *Message) {
	l, ok := r.locks[msg.UnitId]
	if !ok {
		return
	}

	if !Now().Before(l.expiresAt) {
		// lazily purge; an expired lock is already logically absent, so
		// nobody gets a release broadcast for it
		delete(r.locks, msg.UnitId)
		r.cs.stats.Decr(StatActiveLocks)
		return
	}

	if l.holder != c.participant.ConnectionId {
		// releasing someone else's lock is a benign race, not an error
		return
	}

	delete(r.locks, msg.UnitId)
	r.cs.stats.Decr(StatActiveLocks)
	r.broadcast(newLockNotice(KindLockRelease, msg.UnitId, c.participant, time.Time{}), nil)
}

func (r *Room) releaseLocksHeldBy(p types.Participant) {
	for unitId, l := range r.locks {
		if l.holder != p.ConnectionId {
			continue
		}
		delete(r.locks, unitId)
		r.cs.stats.Decr(StatActiveLocks)
		r.broadcast(newLockNotice(KindLockRelease, unitId, p, time.Time{}), nil)
	}
}

// sweepExpiredLocks is the correctness backstop for locks nobody revisits.
// Lazy expiry in acquire/release remains authoritative even if sweeps are
// delayed.
func (r *Room) sweepExpiredLocks() {
	now := Now()
	for unitId, l := range r.locks {
		if now.Before(l.expiresAt) {
			continue
		}

		holder := types.Participant{ConnectionId: l.holder}
		if p, ok := r.participants[l.holder]; ok {
			holder = p.participant
		}

		delete(r.locks, unitId)
		r.cs.stats.Decr(StatActiveLocks)
		r.log.Printf("swept expired lock on %q in room %q", unitId, r.id)
		r.broadcast(newLockNotice(KindLockRelease, unitId, holder, time.Time{}), nil)
	}
}

func (r *Room) handleIdleTimeout() {
	if len(r.participants) > 0 {
		return
	}

	select {
	case r.cs.unloadRoomChan <- r.id:
	default:
		// registry busy, try again next period
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleExit finishes the room's life. Joins that raced the unload are
// handed back to the registry, which will build a fresh room for them —
// both joins still queued on joinChan and participants the room admitted
// after its unload request was queued.
func (r *Room) handleExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.id)

	for {
		select {
		case c := <-r.joinChan:
			go r.cs.Register(r.id, c)
			continue
		default:
		}
		break
	}

	for _, c := range r.participants {
		r.log.Printf("re-registering participant %q after unload of room %q", c.participant.ConnectionId, r.id)
		go r.cs.Register(r.id, c)
	}

	close(r.done)
	if e.done != nil {
		close(e.done)
	}
}

// broadcast queues msg for every participant except skip. Participants
// whose queue is full are pruned through the normal leave path rather than
// allowed to stall the room.
func (r *Room) broadcast(msg *Message, skip *Client) {
	var dead []*Client
	for _, c := range r.participants {
		if c == skip {
			continue
		}

		if !c.queueMessage(msg) {
			dead = append(dead, c)
		}
	}

	for _, c := range dead {
		r.log.Printf("dropping slow participant %q from room %q", c.participant.ConnectionId, r.id)
		c.stopClient()
		r.handleLeave(c)
	}
}

func (r *Room) participantList() []types.Participant {
	list := make([]types.Participant, 0, len(r.participants))
	for _, c := range r.participants {
		list = append(list, c.participant)
	}
	return list
}

func (r *Room) lockSnapshot() []types.LockInfo {
	now := Now()
	snapshot := make([]types.LockInfo, 0, len(r.locks))
	for unitId, l := range r.locks {
		if !now.Before(l.expiresAt) {
			continue
		}

		holder := types.Participant{ConnectionId: l.holder}
		if p, ok := r.participants[l.holder]; ok {
			holder = p.participant
		}

		snapshot = append(snapshot, types.LockInfo{
			UnitId:     unitId,
			Holder:     holder,
			AcquiredAt: l.acquiredAt,
			ExpiresAt:  l.expiresAt,
		})
	}
	return snapshot
}
