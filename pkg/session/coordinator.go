package session

import (
	"fmt"
	"sync"
	"time"

	"chatwire/pkg/auth"
	"chatwire/pkg/chaterr"
	"chatwire/pkg/logger"
	"chatwire/pkg/metrics"
	"chatwire/pkg/models"
	"chatwire/pkg/store"
	"chatwire/pkg/utils"
	"chatwire/pkg/validation"
)

const (
	defaultQueue      = 64
	defaultBacklog    = 50
	defaultTypingTTL  = 3 * time.Second
	defaultSweep      = time.Second
	defaultWorkerIdle = 5 * time.Minute
)

// Options tune the coordinator. Zero fields take defaults.
type Options struct {
	// Queue bounds each session's command channel.
	Queue int
	// Backlog is the recent-history window returned on a first join.
	Backlog int
	// TypingTTL is how long a typing indicator lives without refresh.
	TypingTTL time.Duration
	// Sweep is the typing expiry scan interval.
	Sweep time.Duration
	// WorkerIdle retires a session worker with no traffic for this long.
	WorkerIdle time.Duration
}

func (o Options) withDefaults() Options {
	if o.Queue <= 0 {
		o.Queue = defaultQueue
	}
	if o.Backlog <= 0 {
		o.Backlog = defaultBacklog
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = defaultTypingTTL
	}
	if o.Sweep <= 0 {
		o.Sweep = defaultSweep
	}
	if o.WorkerIdle <= 0 {
		o.WorkerIdle = defaultWorkerIdle
	}
	return o
}

// Coordinator owns the session lifecycle. Every state-mutating command on
// one session flows through that session's single writer goroutine, so a
// status check is atomic with the transition it gates; distinct sessions
// proceed in parallel. The store stays the source of truth: workers load,
// mutate and persist per command, holding no session state between them.
type Coordinator struct {
	sink EventSink
	opts Options

	mu      sync.Mutex
	workers map[string]*worker

	typing *typingTracker

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type worker struct {
	cmds chan Command
	// gone is closed when the worker retires; senders caught mid-flight
	// respawn through workerFor.
	gone chan struct{}
}

// New constructs a coordinator publishing through sink and starts the
// typing sweeper.
func New(sink EventSink, opts Options) *Coordinator {
	c := &Coordinator{
		sink:    sink,
		opts:    opts.withDefaults(),
		workers: make(map[string]*worker),
		quit:    make(chan struct{}),
	}
	c.typing = newTypingTracker(sink, c.opts.TypingTTL)
	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

// Stop retires the sweeper and every session worker. Commands still
// queued reply with a transient error; callers retry after restart.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	c.wg.Wait()
	logger.Info("coordinator_stopped")
}

// Open creates a PENDING session for the customer. Runs outside the
// worker path: a fresh id has no traffic to serialize against.
func (c *Coordinator) Open(actor models.Identity, subject string) (*models.Session, error) {
	if !auth.Can(actor.Role, auth.ActionOpenSession) {
		return nil, chaterr.Forbidden("role cannot open sessions")
	}
	if err := validation.ValidateSubject(subject); err != nil {
		return nil, err
	}
	now := time.Now().UnixNano()
	s := &models.Session{
		ID:           utils.NewID(),
		Subject:      subject,
		Status:       models.StatusPending,
		CustomerID:   actor.ID,
		CustomerName: actor.Name,
		CreatedTS:    now,
		LastActiveTS: now,
	}
	if err := store.SaveSession(s); err != nil {
		metrics.StoreErrorsTotal.Inc()
		return nil, chaterr.TransientStore("session create failed", err)
	}
	metrics.SessionTransitionsTotal.WithLabelValues(models.StatusPending).Inc()
	logger.Info("session_opened", "session", s.ID, "customer", actor.ID)
	return s, nil
}

// Dispatch routes one command and waits for its result. Typing, stop
// typing and leave touch no durable state and run inline; everything
// else is serialized through the session's writer goroutine.
func (c *Coordinator) Dispatch(cmd Command) Result {
	metrics.CommandsTotal.WithLabelValues(cmd.Kind.String()).Inc()
	switch cmd.Kind {
	case CmdTyping:
		if !c.sink.InRoom(cmd.SessionID, cmd.ConnID) {
			// not attached, nothing to relay to
			return Result{}
		}
		c.typing.refresh(cmd.SessionID, cmd.Actor)
		return Result{}
	case CmdStopTyping:
		c.typing.stop(cmd.SessionID, cmd.Actor.ID)
		return Result{}
	case CmdLeave:
		c.sink.Leave(cmd.SessionID, cmd.ConnID)
		c.typing.stop(cmd.SessionID, cmd.Actor.ID)
		return Result{}
	case CmdJoin, CmdSend, CmdMarkRead, CmdAccept, CmdClose:
		return c.enqueue(cmd)
	}
	return Result{Err: fmt.Errorf("unhandled command kind %d", cmd.Kind)}
}

func (c *Coordinator) enqueue(cmd Command) Result {
	if cmd.Reply == nil {
		cmd.Reply = make(chan Result, 1)
	}
	if err := c.submit(cmd); err != nil {
		return Result{Err: err}
	}
	return <-cmd.Reply
}

// submit places cmd on the session worker, respawning it when a retiring
// worker wins the race.
func (c *Coordinator) submit(cmd Command) error {
	for {
		select {
		case <-c.quit:
			return chaterr.TransientStore("server shutting down", nil)
		default:
		}
		w := c.workerFor(cmd.SessionID)
		select {
		case w.cmds <- cmd:
			return nil
		case <-w.gone:
			// retired between lookup and send; take a fresh one
		case <-c.quit:
			return chaterr.TransientStore("server shutting down", nil)
		}
	}
}

func (c *Coordinator) workerFor(sessionID string) *worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[sessionID]; ok {
		return w
	}
	w := &worker{
		cmds: make(chan Command, c.opts.Queue),
		gone: make(chan struct{}),
	}
	c.workers[sessionID] = w
	c.wg.Add(1)
	go c.run(sessionID, w)
	return w
}

func (c *Coordinator) run(sessionID string, w *worker) {
	defer c.wg.Done()
	idle := time.NewTimer(c.opts.WorkerIdle)
	defer idle.Stop()

	for {
		select {
		case cmd := <-w.cmds:
			c.handle(sessionID, cmd)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.opts.WorkerIdle)

		case <-idle.C:
			c.mu.Lock()
			if len(w.cmds) > 0 {
				c.mu.Unlock()
				idle.Reset(c.opts.WorkerIdle)
				continue
			}
			close(w.gone)
			delete(c.workers, sessionID)
			c.mu.Unlock()
			// a sender that won the race against gone may have slipped a
			// command into the buffer; hand it to the fresh worker
			for {
				select {
				case cmd := <-w.cmds:
					if err := c.submit(cmd); err != nil {
						c.reply(cmd, Result{Err: err})
					}
				default:
					logger.Debug("session_worker_retired", "session", sessionID)
					return
				}
			}

		case <-c.quit:
			c.mu.Lock()
			select {
			case <-w.gone:
			default:
				close(w.gone)
			}
			delete(c.workers, sessionID)
			c.mu.Unlock()
			for {
				select {
				case cmd := <-w.cmds:
					c.reply(cmd, Result{Err: chaterr.TransientStore("server shutting down", nil)})
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) reply(cmd Command, res Result) {
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
}

// handle is the exhaustive dispatch for worker-serialized commands.
func (c *Coordinator) handle(sessionID string, cmd Command) {
	var res Result
	switch cmd.Kind {
	case CmdJoin:
		res = c.join(sessionID, cmd)
	case CmdSend:
		res = c.send(sessionID, cmd)
	case CmdMarkRead:
		res = c.markRead(sessionID, cmd)
	case CmdAccept:
		res = c.accept(sessionID, cmd)
	case CmdClose:
		res = c.closeSession(sessionID, cmd)
	case CmdLeave, CmdTyping, CmdStopTyping:
		// Dispatch handles these inline; reaching a worker is a routing bug
		res = Result{Err: fmt.Errorf("command %s must not reach a session worker", cmd.Kind)}
	default:
		res = Result{Err: fmt.Errorf("unhandled command kind %d", cmd.Kind)}
	}
	if res.Err != nil {
		logger.Debug("command_rejected", "session", sessionID, "kind", cmd.Kind.String(), "user", cmd.Actor.ID, "reason", res.Err.Error())
	}
	c.reply(cmd, res)
}

// load fetches the session, translating store failures into the domain
// taxonomy. A session whose status byte is unrecognized is forced to
// CLOSED and announced, instead of being left ambiguous.
func (c *Coordinator) load(sessionID string) (*models.Session, error) {
	s, err := store.GetSession(sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, chaterr.NotFound("session not found")
		}
		metrics.StoreErrorsTotal.Inc()
		return nil, chaterr.TransientStore("session load failed", err)
	}
	if !models.ValidStatus(s.Status) {
		logger.Error("session_status_unknown", "session", sessionID, "status", s.Status)
		now := time.Now().UnixNano()
		s.Status = models.StatusClosed
		s.ClosedTS = now
		s.LastActiveTS = now
		if err := store.SaveSession(s); err != nil {
			metrics.StoreErrorsTotal.Inc()
			return nil, chaterr.TransientStore("session repair failed", err)
		}
		metrics.SessionTransitionsTotal.WithLabelValues(models.StatusClosed).Inc()
		c.sink.Broadcast(sessionID, event(models.EvChatClosed, models.ChatClosedData{Session: s}), "")
	}
	return s, nil
}

func (c *Coordinator) join(sessionID string, cmd Command) Result {
	s, err := c.load(sessionID)
	if err != nil {
		return Result{Err: err}
	}
	if !s.Participant(cmd.Actor.ID) {
		// agents may inspect the unassigned queue, nothing else
		if s.Status != models.StatusPending || !auth.Can(cmd.Actor.Role, auth.ActionViewPending) {
			return Result{Err: chaterr.Forbidden("not a session participant")}
		}
	}

	// Attach before snapshotting history. Sends for this session commit
	// and broadcast inside this same goroutine, so nothing can land
	// between the two steps: the backlog plus the live queue is gapless
	// and duplicate-free.
	if !c.sink.Join(sessionID, cmd.ConnID) {
		return Result{Err: fmt.Errorf("connection no longer attached")}
	}

	var backlog []models.Message
	if cmd.LastSeenID != "" {
		after, serr := store.GetMessageSeq(sessionID, cmd.LastSeenID)
		switch {
		case serr == nil:
			backlog, err = store.ListMessagesAfter(sessionID, after, 0)
		case store.IsNotFound(serr):
			// unknown marker: treat as a first join
			backlog, err = store.ListRecentMessages(sessionID, c.opts.Backlog)
		default:
			err = serr
		}
	} else {
		backlog, err = store.ListRecentMessages(sessionID, c.opts.Backlog)
	}
	if err != nil {
		c.sink.Leave(sessionID, cmd.ConnID)
		metrics.StoreErrorsTotal.Inc()
		return Result{Err: chaterr.TransientStore("history read failed", err)}
	}
	if backlog == nil {
		backlog = []models.Message{}
	}

	c.sink.NotifyConn(cmd.ConnID, event(models.EvSessionJoined, models.SessionJoinedData{
		Session: s,
		Backlog: backlog,
	}))
	logger.Info("session_joined", "session", sessionID, "user", cmd.Actor.ID, "conn", cmd.ConnID, "backlog", len(backlog))
	return Result{Session: s, Backlog: backlog}
}

func (c *Coordinator) send(sessionID string, cmd Command) Result {
	s, err := c.load(sessionID)
	if err != nil {
		return Result{Err: err}
	}
	if s.Status == models.StatusClosed {
		return Result{Err: chaterr.InvalidState("session is closed")}
	}
	if !s.Participant(cmd.Actor.ID) {
		return Result{Err: chaterr.Forbidden("not a session participant")}
	}
	msgType := cmd.MessageType
	if msgType == "" {
		msgType = models.TypeText
	}
	if err := validation.ValidateMessage(cmd.Content, msgType, cmd.Attachments); err != nil {
		return Result{Err: err}
	}

	msg, err := c.append(s, cmd.Actor, cmd.Content, msgType, cmd.TempID, cmd.Attachments)
	if err != nil {
		return Result{Err: err}
	}

	// sending stops the indicator without a second round trip
	c.typing.stop(sessionID, cmd.Actor.ID)

	// Everyone else gets the canonical record; the sender's own devices
	// get it with temp_id attached so the client reconciles temp_id->id.
	canonical := *msg
	canonical.TempID = ""
	c.sink.Broadcast(sessionID, event(models.EvNewMessage, models.NewMessageData{Message: &canonical}), cmd.Actor.ID)
	c.sink.NotifyRoomUser(sessionID, cmd.Actor.ID, event(models.EvNewMessage, models.NewMessageData{Message: msg}))
	return Result{Session: s, Message: msg}
}

func (c *Coordinator) markRead(sessionID string, cmd Command) Result {
	s, err := c.load(sessionID)
	if err != nil {
		return Result{Err: err}
	}
	if !s.Participant(cmd.Actor.ID) {
		return Result{Err: chaterr.Forbidden("not a session participant")}
	}
	if len(cmd.MessageIDs) == 0 {
		return Result{Err: chaterr.Validation("message_ids required")}
	}

	// resolve the highest seq among the given ids; unknown ids are skipped
	var top int64
	known := 0
	for _, mid := range cmd.MessageIDs {
		seq, serr := store.GetMessageSeq(sessionID, mid)
		if serr != nil {
			if store.IsNotFound(serr) {
				continue
			}
			metrics.StoreErrorsTotal.Inc()
			return Result{Err: chaterr.TransientStore("message lookup failed", serr)}
		}
		known++
		if seq > top {
			top = seq
		}
	}
	if known == 0 {
		return Result{Err: chaterr.NotFound("no such messages in session")}
	}

	cur, err := store.GetCursor(sessionID, cmd.Actor.ID)
	if err != nil && !store.IsNotFound(err) {
		metrics.StoreErrorsTotal.Inc()
		return Result{Err: chaterr.TransientStore("cursor load failed", err)}
	}
	if cur != nil && cur.Seq >= top {
		// cursor only moves forward; a stale ack changes nothing
		return Result{Session: s}
	}
	next := &models.ReadCursor{
		SessionID: sessionID,
		UserID:    cmd.Actor.ID,
		Seq:       top,
		ReadTS:    time.Now().UnixNano(),
	}
	if err := store.SaveCursor(next); err != nil {
		metrics.StoreErrorsTotal.Inc()
		return Result{Err: chaterr.TransientStore("cursor save failed", err)}
	}

	// the caller knows what it read; only the others need telling
	c.sink.Broadcast(sessionID, event(models.EvMessagesRead, models.MessagesReadData{
		SessionID:  sessionID,
		UserID:     cmd.Actor.ID,
		MessageIDs: cmd.MessageIDs,
	}), cmd.Actor.ID)
	return Result{Session: s}
}

func (c *Coordinator) accept(sessionID string, cmd Command) Result {
	if !auth.Can(cmd.Actor.Role, auth.ActionAccept) {
		return Result{Err: chaterr.Forbidden("role cannot accept sessions")}
	}
	s, err := c.load(sessionID)
	if err != nil {
		return Result{Err: err}
	}
	if s.Status != models.StatusPending {
		return Result{Err: chaterr.AlreadyAssigned("session already assigned")}
	}

	s.Status = models.StatusActive
	s.AgentID = cmd.Actor.ID
	s.AgentName = cmd.Actor.Name

	// transition and system message commit in one batch through append
	sys, err := c.append(s, models.System, cmd.Actor.Name+" joined the chat", models.TypeSystem, "", nil)
	if err != nil {
		return Result{Err: err}
	}
	metrics.SessionTransitionsTotal.WithLabelValues(models.StatusActive).Inc()
	logger.Info("session_accepted", "session", sessionID, "agent", cmd.Actor.ID)

	c.sink.Broadcast(sessionID, event(models.EvChatAccepted, models.ChatAcceptedData{
		Session:   s,
		AgentName: s.AgentName,
	}), "")
	c.sink.Broadcast(sessionID, event(models.EvNewMessage, models.NewMessageData{Message: sys}), "")
	return Result{Session: s, Message: sys}
}

func (c *Coordinator) closeSession(sessionID string, cmd Command) Result {
	s, err := c.load(sessionID)
	if err != nil {
		return Result{Err: err}
	}
	privileged := cmd.Actor.Role == models.RoleAdmin || cmd.Actor.Role == models.RoleSystem
	if !privileged {
		if !s.Participant(cmd.Actor.ID) {
			return Result{Err: chaterr.Forbidden("not a session participant")}
		}
		if !auth.Can(cmd.Actor.Role, auth.ActionClose) {
			return Result{Err: chaterr.Forbidden("role cannot close sessions")}
		}
	}
	if s.Status == models.StatusClosed {
		return Result{Err: chaterr.InvalidState("session already closed")}
	}

	s.Status = models.StatusClosed
	s.ClosedTS = time.Now().UnixNano()

	sys, err := c.append(s, models.System, "session closed", models.TypeSystem, "", nil)
	if err != nil {
		return Result{Err: err}
	}
	metrics.SessionTransitionsTotal.WithLabelValues(models.StatusClosed).Inc()
	logger.Info("session_closed", "session", sessionID, "by", cmd.Actor.ID, "role", cmd.Actor.Role)

	c.typing.clearSession(sessionID)
	c.sink.Broadcast(sessionID, event(models.EvChatClosed, models.ChatClosedData{Session: s}), "")
	c.sink.Broadcast(sessionID, event(models.EvNewMessage, models.NewMessageData{Message: sys}), "")
	return Result{Session: s, Message: sys}
}

// append assigns id, seq and timestamp, then persists message and session
// metadata as one atomic batch. Callers validate user input first; server
// generated messages skip validation by construction.
func (c *Coordinator) append(s *models.Session, sender models.Identity, content, msgType, tempID string, atts []models.Attachment) (*models.Message, error) {
	now := time.Now().UnixNano()
	msg := &models.Message{
		ID:         utils.NewID(),
		SessionID:  s.ID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Type:       msgType,
		Content:    content,
		TS:         now,
		TempID:     tempID,
	}
	if len(atts) > 0 {
		msg.Attachments = make([]models.Attachment, len(atts))
		copy(msg.Attachments, atts)
		for i := range msg.Attachments {
			if msg.Attachments[i].ID == "" {
				msg.Attachments[i].ID = utils.NewID()
			}
			msg.Attachments[i].MessageID = msg.ID
		}
	}
	s.LastSeq++
	msg.Seq = s.LastSeq
	s.LastActiveTS = now
	if err := store.AppendMessage(s, msg); err != nil {
		metrics.StoreErrorsTotal.Inc()
		return nil, chaterr.TransientStore("message append failed", err)
	}
	metrics.MessagesTotal.Inc()
	return msg, nil
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.Sweep)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			c.typing.sweep(now)
		case <-c.quit:
			return
		}
	}
}
