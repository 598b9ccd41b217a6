package ghost

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol/payload"
	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/supervisor"
	"github.com/rs/zerolog"
)

const DefaultCommandPoll = 100 * time.Millisecond

// CommandRequest is one queued command with the frame that carried it.
type CommandRequest struct {
	Command   string
	Raw       string
	MessageID string
	PeerID    string
	QueuedAt  time.Time
}

// ResultSender is the channel surface the queue needs.
type ResultSender interface {
	Send(ctx context.Context, peerID, body string) (session.Envelope, error)
	Acknowledge(ctx context.Context, peerID, raw string) error
}

// CommandQueue executes commands one at a time in arrival order.
type CommandQueue struct {
	exec Executor
	out  ResultSender
	poll time.Duration
	log  zerolog.Logger

	mu        sync.Mutex
	pending   []CommandRequest
	executing bool
	current   string
}

func NewCommandQueue(exec Executor, out ResultSender, poll time.Duration) *CommandQueue {
	if poll <= 0 {
		poll = DefaultCommandPoll
	}
	return &CommandQueue{
		exec: exec,
		out:  out,
		poll: poll,
		log:  logging.L("commands"),
	}
}

func (q *CommandQueue) Enqueue(req CommandRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
}

// OnData queues every inbound data frame as a command.
func (q *CommandQueue) OnData(_ context.Context, in session.Inbound) {
	if strings.TrimSpace(in.Body) == "" {
		q.log.Debug().Str("message_id", in.MessageID).Msg("ignoring empty command")
		return
	}
	q.Enqueue(CommandRequest{
		Command:   in.Body,
		Raw:       in.Raw,
		MessageID: in.MessageID,
		PeerID:    in.PeerID,
		QueuedAt:  in.ReceivedAt,
	})
	q.log.Info().Str("message_id", in.MessageID).Str("command", in.Body).Msg("command queued")
}

// RunOnce executes the oldest queued command unless one is running. It
// reports whether a command was executed.
func (q *CommandQueue) RunOnce(ctx context.Context) bool {
	q.mu.Lock()
	if q.executing || len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	q.executing = true
	q.current = req.Command
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.executing = false
		q.current = ""
		q.mu.Unlock()
	}()

	start := time.Now()
	result := q.exec.Execute(ctx, req.Command)
	observability.RecordCommand(outcomeOf(result), time.Since(start))

	if _, err := q.out.Send(ctx, req.PeerID, payload.EscapeResult(result)); err != nil {
		q.log.Warn().Str("message_id", req.MessageID).Err(err).Msg("result send failed")
	}
	if err := q.out.Acknowledge(ctx, req.PeerID, req.Raw); err != nil {
		q.log.Warn().Str("message_id", req.MessageID).Err(err).Msg("completion ack failed")
	}
	q.log.Info().
		Str("message_id", req.MessageID).
		Dur("elapsed", time.Since(start)).
		Msg("command complete")
	return true
}

// Run drains the queue every poll interval until ctx is done.
func (q *CommandQueue) Run(ctx context.Context) error {
	return supervisor.Every(ctx, "ghost.commands", q.poll, func(ctx context.Context) error {
		for ctx.Err() == nil && q.RunOnce(ctx) {
		}
		return nil
	})
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Current returns the running command, if any.
func (q *CommandQueue) Current() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current, q.executing
}

func outcomeOf(result string) string {
	switch {
	case strings.HasPrefix(result, TimeoutPrefix):
		return "timeout"
	case strings.HasPrefix(result, ErrorPrefix):
		return "error"
	default:
		return "ok"
	}
}
