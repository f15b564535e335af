package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"statement-relay/internal/dto"
	"statement-relay/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClientConn is the browser side of a relay session. Both the fiber
// websocket connection and *websocket.Conn implement it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// SnapshotLoader is satisfied by *TransactionService.
type SnapshotLoader interface {
	Snapshot(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
}

// RelayService bridges client analysis requests to the external analysis
// service. Every valid request gets exactly one result or error frame back.
type RelayService struct {
	loader         SnapshotLoader
	dialer         UpstreamDialer
	requestTimeout time.Duration
	logger         *zap.Logger
}

func NewRelayService(loader SnapshotLoader, dialer UpstreamDialer, requestTimeout time.Duration, logger *zap.Logger) *RelayService {
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}
	return &RelayService{
		loader:         loader,
		dialer:         dialer,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// Serve runs one client session for an authenticated user and returns when
// the client goes away or ctx is cancelled. Pending requests are dropped and
// the upstream connection is closed on return. client is not touched after
// Serve returns.
func (s *RelayService) Serve(ctx context.Context, client ClientConn, userID uuid.UUID) {
	sess := newRelaySession(ctx, s, client, userID)
	defer sess.close()

	sess.logger.Info("Relay session started")

	// The watcher must be gone before Serve returns: callers may recycle
	// client as soon as it does.
	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage when the server shuts down.
			client.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcherDone
	}()

	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			sess.logger.Debug("Client disconnected", zap.Error(err))
			return
		}

		msgs, err := parseClientFrame(data)
		if err != nil {
			sess.writeClient(RelayFrame{Type: frameTypeError, Error: msgInvalidFormat})
			continue
		}

		for _, msg := range msgs {
			if reason := validateClientMessage(msg, userID); reason != "" {
				sess.writeClient(RelayFrame{
					Type:      frameTypeError,
					Error:     reason,
					Action:    msg.Action,
					RequestID: msg.RequestID,
				})
				continue
			}

			sess.wg.Add(1)
			go sess.handle(msg)
		}
	}
}

type pendingRequest struct {
	correlationID string
	action        string
	requestID     string
	seq           uint64
	conn          UpstreamConn
	done          chan RelayFrame
}

type relaySession struct {
	svc    *RelayService
	ctx    context.Context
	cancel context.CancelFunc
	client ClientConn
	userID uuid.UUID
	logger *zap.Logger
	wg     sync.WaitGroup

	clientMu sync.Mutex

	mu         sync.Mutex
	upstream   UpstreamConn
	upstreamMu sync.Mutex
	pending    map[string]*pendingRequest
	seq        uint64
	// expired counts timed-out requests per action on the current upstream
	// whose uncorrelated answer may still arrive.
	expired map[string]int
}

func newRelaySession(ctx context.Context, svc *RelayService, client ClientConn, userID uuid.UUID) *relaySession {
	ctx, cancel := context.WithCancel(ctx)
	return &relaySession{
		svc:     svc,
		ctx:     ctx,
		cancel:  cancel,
		client:  client,
		userID:  userID,
		logger:  svc.logger.With(zap.String("user_id", userID.String())),
		pending: make(map[string]*pendingRequest),
		expired: make(map[string]int),
	}
}

func (s *relaySession) handle(msg ClientMessage) {
	defer s.wg.Done()

	transactions, err := s.svc.loader.Snapshot(s.ctx, s.userID)
	if err != nil {
		s.logger.Error("Failed to load transactions for analysis", zap.Error(err))
		s.writeError(msg, "", msgLoadFailed)
		return
	}
	if len(transactions) == 0 {
		s.writeError(msg, "", msgNoTransactions)
		return
	}

	req, err := s.register(msg)
	if err != nil {
		s.logger.Warn("Analysis service unavailable", zap.Error(err))
		s.writeError(msg, "", msgUpstreamDown)
		return
	}

	s.upstreamMu.Lock()
	err = req.conn.WriteJSON(upstreamRequest{
		Action:        msg.Action,
		UserID:        s.userID.String(),
		CorrelationID: req.correlationID,
		Transactions:  dto.NewTransactionResponses(transactions),
	})
	s.upstreamMu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to send analysis request", zap.Error(err))
		s.upstreamFailed(req.conn)
	} else {
		s.logger.Debug("Analysis request forwarded",
			zap.String("action", msg.Action),
			zap.String("correlation_id", req.correlationID),
			zap.Int("transactions", len(transactions)),
		)
	}

	timer := time.NewTimer(s.svc.requestTimeout)
	defer timer.Stop()

	select {
	case frame := <-req.done:
		s.writeClient(frame)
	case <-timer.C:
		if s.finish(req) {
			s.logger.Warn("Analysis request expired",
				zap.String("action", msg.Action),
				zap.String("correlation_id", req.correlationID),
				zap.Error(ErrUpstreamTimeout),
			)
			s.writeError(msg, req.correlationID, msgRequestTimedOut)
			return
		}
		// A response won the race against the timer.
		select {
		case frame := <-req.done:
			s.writeClient(frame)
		case <-s.ctx.Done():
		}
	case <-s.ctx.Done():
	}
}

// register makes sure an upstream connection exists and records the request
// against it. Holding mu across both steps means an idle close can never
// happen between them.
func (s *relaySession) register(msg ClientMessage) (*pendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upstream == nil {
		conn, err := s.svc.dialer.Dial(s.ctx)
		if err != nil {
			return nil, err
		}
		if err := s.ctx.Err(); err != nil {
			conn.Close()
			return nil, err
		}
		s.upstream = conn
		s.wg.Add(1)
		go s.readUpstream(conn)
	}

	s.seq++
	req := &pendingRequest{
		correlationID: uuid.NewString(),
		action:        msg.Action,
		requestID:     msg.RequestID,
		seq:           s.seq,
		conn:          s.upstream,
		done:          make(chan RelayFrame, 1),
	}
	s.pending[req.correlationID] = req
	return req, nil
}

func (s *relaySession) readUpstream(conn UpstreamConn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.upstreamFailed(conn)
			return
		}

		var frame upstreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("Ignoring malformed frame from analysis service", zap.Error(err))
			continue
		}
		s.dispatch(conn, &frame)
	}
}

func (s *relaySession) dispatch(conn UpstreamConn, frame *upstreamFrame) {
	req := s.lookup(conn, frame)
	if req == nil {
		s.logger.Debug("Dropping frame with no matching request",
			zap.String("correlation_id", frame.CorrelationID),
			zap.String("action", frame.Action),
		)
		return
	}

	switch {
	case frame.isProgress():
		s.writeClient(RelayFrame{
			Action:        req.action,
			Type:          frameTypeProgress,
			Message:       frame.Message,
			Progress:      frame.Progress,
			CorrelationID: req.correlationID,
			RequestID:     req.requestID,
		})
	case frame.isError():
		s.resolve(req, RelayFrame{
			Action:        req.action,
			Type:          frameTypeError,
			Error:         frame.errorText(),
			CorrelationID: req.correlationID,
			RequestID:     req.requestID,
		})
	default:
		s.resolve(req, RelayFrame{
			Action:        req.action,
			Type:          frameTypeResult,
			Result:        frame.Result,
			CorrelationID: req.correlationID,
			RequestID:     req.requestID,
		})
	}
}

// lookup finds the request a frame answers. Frames without a correlation id
// go to the oldest request with the same action, or to the only outstanding
// request when the action is not recognisable. An uncorrelated final frame
// is first charged against an expired request of the same action, so a late
// answer never completes a newer request.
func (s *relaySession) lookup(conn UpstreamConn, frame *upstreamFrame) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.CorrelationID != "" {
		return s.pending[frame.CorrelationID]
	}

	action := frame.canonicalAction()
	if !frame.isProgress() && conn == s.upstream && s.consumeExpiredLocked(action) {
		return nil
	}
	var match, only *pendingRequest
	count := 0
	for _, req := range s.pending {
		if req.conn != conn {
			continue
		}
		count++
		only = req
		if req.action == action && (match == nil || req.seq < match.seq) {
			match = req
		}
	}
	if match == nil && count == 1 {
		return only
	}
	return match
}

// resolve completes req with frame unless it has already completed.
func (s *relaySession) resolve(req *pendingRequest, frame RelayFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[req.correlationID] != req {
		return
	}
	s.removeLocked(req)
	req.done <- frame
}

// finish expires req without answering it. It reports false when the
// request was already resolved.
func (s *relaySession) finish(req *pendingRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[req.correlationID] != req {
		return false
	}
	if req.conn == s.upstream {
		s.expired[req.action]++
	}
	s.removeLocked(req)
	return true
}

// consumeExpiredLocked reports whether an uncorrelated final frame for action
// belongs to an expired request. An unrecognisable action matches any.
func (s *relaySession) consumeExpiredLocked(action string) bool {
	if action == "" {
		for a := range s.expired {
			action = a
			break
		}
	}
	n := s.expired[action]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(s.expired, action)
	} else {
		s.expired[action] = n - 1
	}
	return true
}

// removeLocked drops req and closes the upstream once nothing is waiting on it.
func (s *relaySession) removeLocked(req *pendingRequest) {
	delete(s.pending, req.correlationID)
	if len(s.pending) == 0 && s.upstream != nil {
		s.logger.Debug("Closing idle analysis connection")
		s.dropUpstreamLocked()
	}
}

// dropUpstreamLocked closes the current upstream. Expired requests die with
// it since their answers can no longer arrive.
func (s *relaySession) dropUpstreamLocked() {
	s.upstream.Close()
	s.upstream = nil
	clear(s.expired)
}

// upstreamFailed fails every request still waiting on conn.
func (s *relaySession) upstreamFailed(conn UpstreamConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upstream == conn {
		s.dropUpstreamLocked()
	}

	for id, req := range s.pending {
		if req.conn != conn {
			continue
		}
		delete(s.pending, id)
		req.done <- RelayFrame{
			Action:        req.action,
			Type:          frameTypeError,
			Error:         msgUpstreamClosed,
			CorrelationID: req.correlationID,
			RequestID:     req.requestID,
		}
	}
}

func (s *relaySession) writeError(msg ClientMessage, correlationID, text string) {
	s.writeClient(RelayFrame{
		Action:        msg.Action,
		Type:          frameTypeError,
		Error:         text,
		CorrelationID: correlationID,
		RequestID:     msg.RequestID,
	})
}

func (s *relaySession) writeClient(frame RelayFrame) {
	if s.ctx.Err() != nil {
		return
	}

	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	if err := s.client.WriteJSON(frame); err != nil {
		s.logger.Debug("Failed to write to client", zap.Error(err))
	}
}

func (s *relaySession) close() {
	s.cancel()

	s.mu.Lock()
	if s.upstream != nil {
		s.dropUpstreamLocked()
	}
	s.pending = make(map[string]*pendingRequest)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Relay session closed")
}
