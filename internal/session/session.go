// ABOUTME: Per-connection session state machine and command dispatch
// ABOUTME: Enforces one research run at a time and sequences the run's client events

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/research-gateway/internal/conversation"
	"github.com/2389/research-gateway/internal/metrics"
	"github.com/2389/research-gateway/internal/orchestrator"
	"github.com/2389/research-gateway/internal/protocol"
	"github.com/2389/research-gateway/internal/store"
	"github.com/2389/research-gateway/internal/tokenbuf"
)

// Texts and statuses sent while a run progresses.
const (
	StatusStarting    = "Starting research..."
	StatusGathering   = "Gathering information from various sources..."
	StatusResearching = "Conducting deep research..."
	StatusComplete    = "Research complete!"

	OpeningMessage   = "🔎 Starting research on your query..."
	GatheringMessage = "📚 Gathering information from various sources..."

	// BusyMessage rejects a query sent while a run is in flight.
	BusyMessage = "research already in progress"

	progressGathering   = 0.2
	progressResearching = 0.5
)

type session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	m           *Manager
	t           Transport
	w           *writer
	limiter     *rate.Limiter
	tokens      *tokenbuf.Buffer
	connectedAt time.Time
	logger      *slog.Logger

	// researching is the Idle/Researching guard.
	researching atomic.Bool
	runs        sync.WaitGroup

	mu          sync.Mutex
	chatID      string
	status      string
	query       string
	notes       []string
	finalReport string
	sub         *subscription
}

// subscription relays messages other connections append to the bound chat.
type subscription struct {
	chatID string
	id     string
	cancel context.CancelFunc
}

func (s *session) readLoop() error {
	for {
		raw, err := s.t.ReadFrame(s.ctx)
		if err != nil {
			return err
		}

		if s.limiter != nil && !s.limiter.Allow() {
			metrics.RecordFrameRejected(protocol.ErrCodeRateLimited)
			s.w.Send(protocol.Error{Code: protocol.ErrCodeRateLimited, Message: "too many frames, slow down"})
			continue
		}

		cmd, err := protocol.Decode(raw)
		if err != nil {
			metrics.RecordFrameRejected(protocol.ErrCodeDecode)
			s.logger.Debug("rejected inbound frame", "error", err)
			s.w.Send(protocol.Error{Code: protocol.ErrCodeDecode, Message: err.Error()})
			continue
		}
		metrics.RecordFrameIn(protocol.CommandType(cmd))

		switch c := cmd.(type) {
		case *protocol.SelectChat:
			s.selectChat(c.ChatID)
		case *protocol.UserMessage:
			s.userMessage(c)
		}
	}
}

func (s *session) selectChat(chatID string) {
	s.bind(chatID)
	s.logger.Debug("chat selected", "chat_id", chatID)
	s.w.Send(s.state(false))
}

func (s *session) userMessage(msg *protocol.UserMessage) {
	if msg.ChatID != "" {
		s.bind(msg.ChatID)
	}
	if msg.Text == "" {
		s.w.Send(protocol.Message{Text: protocol.EmptyQueryReply})
		return
	}
	if !s.researching.CompareAndSwap(false, true) {
		metrics.RecordFrameRejected(protocol.ErrCodeResearchInProgress)
		s.w.Send(protocol.Error{Code: protocol.ErrCodeResearchInProgress, Message: BusyMessage})
		return
	}

	s.mu.Lock()
	s.query = msg.Text
	s.status = StatusStarting
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.research(msg.Text)
	}()
}

// research performs one run. The caller has already moved the session to
// Researching; research always moves it back.
func (s *session) research(query string) {
	runID := uuid.New().String()
	logger := s.logger.With("run_id", runID)

	chatID, err := s.ensureChat(query)
	if err != nil {
		s.researching.Store(false)
		if s.ctx.Err() != nil {
			return
		}
		logger.Error("failed to prepare chat", "error", err)
		s.setStatus("Error: " + err.Error())
		s.w.Send(protocol.Error{Code: protocol.ErrCodeStoreUnavailable, Message: "could not start research: " + err.Error()})
		s.w.Send(s.state(false))
		return
	}
	logger = logger.With("chat_id", chatID)

	if _, err := s.m.conv.AppendMessage(s.ctx, conversation.AppendRequest{
		ChatID:  chatID,
		Role:    store.RoleUser,
		Content: query,
		Origin:  s.origin(),
	}); err != nil {
		logger.Error("failed to record user message", "error", err)
		s.w.Send(protocol.Error{Code: protocol.ErrCodeStoreUnavailable, Message: "Your query could not be added to the chat history."})
	}

	s.w.Send(protocol.State{ChatID: chatID, IsResearching: true, ResearchStatus: StatusStarting})
	s.w.Send(protocol.ResearchStarted{Query: query})
	s.w.Send(protocol.Message{Text: OpeningMessage})
	s.setStatus(StatusGathering)
	s.w.Send(protocol.ResearchProgress{Status: StatusGathering, Progress: progressGathering})
	s.w.Send(protocol.Message{Text: GatheringMessage})
	s.setStatus(StatusResearching)
	s.w.Send(protocol.ResearchProgress{Status: StatusResearching, Progress: progressResearching})

	out := s.m.runner.Run(s.ctx, orchestrator.Invocation{
		RunID:  runID,
		ChatID: chatID,
		Query:  query,
		Origin: s.origin(),
		Tokens: s.tokens,
		Sink:   s.w,
	})

	s.mu.Lock()
	switch out.Status {
	case orchestrator.StatusCompleted:
		s.finalReport = out.Report
		s.notes = out.Notes
		s.status = StatusComplete
	case orchestrator.StatusFailed:
		s.status = "Error: " + engineCause(out.Err).Error()
	default:
		s.status = ""
	}
	s.mu.Unlock()
	s.researching.Store(false)

	if out.Status == orchestrator.StatusCancelled || s.ctx.Err() != nil {
		return
	}
	s.w.Send(s.state(true))
}

// ensureChat resolves the chat a run belongs to. With nothing bound a new
// chat is created; a bound id that does not exist yet is created under
// that id.
func (s *session) ensureChat(query string) (string, error) {
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()

	title := DeriveTitle(query)
	if chatID == "" {
		chat, err := s.m.conv.CreateChat(s.ctx, title)
		if err != nil {
			return "", err
		}
		// A select_chat that landed while the chat was being created wins;
		// this run still records into the chat it created.
		s.mu.Lock()
		if s.chatID == "" {
			s.bindLocked(chat.ID)
		}
		s.mu.Unlock()
		return chat.ID, nil
	}

	chat, err := s.m.conv.EnsureChat(s.ctx, chatID, title)
	if err != nil {
		return "", err
	}
	return chat.ID, nil
}

func engineCause(err error) error {
	var ef *orchestrator.EngineFailure
	if errors.As(err, &ef) {
		return ef.Err
	}
	if err == nil {
		return errors.New("unknown failure")
	}
	return err
}

// bind points the session at chatID and moves the transcript subscription.
func (s *session) bind(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindLocked(chatID)
}

// bindLocked is bind with s.mu held.
func (s *session) bindLocked(chatID string) {
	if s.chatID == chatID && (s.sub != nil || s.m.broadcaster == nil) {
		return
	}
	s.chatID = chatID

	if s.sub != nil {
		s.sub.cancel()
		s.sub = nil
	}
	if s.m.broadcaster == nil {
		return
	}

	subCtx, cancel := context.WithCancel(s.ctx)
	ch, subID := s.m.broadcaster.Subscribe(subCtx, chatID)
	s.sub = &subscription{chatID: chatID, id: subID, cancel: cancel}
	go s.forward(ch)
}

func (s *session) forward(ch <-chan *store.Message) {
	for msg := range ch {
		s.w.Send(protocol.History{
			ID:         msg.ID,
			ChatID:     msg.ChatID,
			Role:       msg.Role,
			Content:    msg.Content,
			Timestamp:  msg.Timestamp,
			ReportPath: msg.ReportPath,
		})
	}
}

func (s *session) unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.cancel()
		s.sub = nil
	}
}

// origin is the session's broadcaster subscription id. Messages appended
// with it as Origin are not relayed back to this session.
func (s *session) origin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return ""
	}
	return s.sub.id
}

func (s *session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// state snapshots the session. full adds the query, notes and report.
func (s *session) state(full bool) protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := protocol.State{
		ChatID:         s.chatID,
		IsResearching:  s.researching.Load(),
		ResearchStatus: s.status,
	}
	if full {
		st.CurrentQuery = s.query
		st.Notes = append([]string(nil), s.notes...)
		st.FinalReport = s.finalReport
	}
	return st
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ConnID:        s.id,
		ChatID:        s.chatID,
		IsResearching: s.researching.Load(),
		ConnectedAt:   s.connectedAt,
	}
}
