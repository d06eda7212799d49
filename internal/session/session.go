// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one question/answer exchange against the upstream
// model server.
package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatai/internal/model"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/stream"
	"github.com/jeranaias/chatai/internal/util"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Upstream opens a chat reply body. *ollama.Client implements it.
type Upstream interface {
	OpenChat(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error)
}

// Transcript receives committed exchanges. *model.Transcript implements it.
type Transcript interface {
	AppendExchange(user, assistant model.Message) error
	Messages() []model.Message
}

// Handlers receive the events of one exchange. Every field is optional.
// Handlers run on a dedicated goroutine, one at a time, never concurrently
// with each other; a slow handler delays delivery but never the upstream read.
type Handlers struct {
	// OnSnapshot receives the accumulated text so far. Consecutive calls may
	// skip intermediate snapshots but each text extends the previous one.
	OnSnapshot func(text string)

	// OnComplete receives the committed assistant message, after the last
	// OnSnapshot.
	OnComplete func(msg model.Message)

	// OnError receives the terminal failure. It is not called on Cancel.
	OnError func(err *ExchangeError)

	// OnMalformed reports a skipped line. The exchange continues.
	OnMalformed func(err *stream.ParseError)
}

// Request is one question.
type Request struct {
	Prompt string
	Model  string

	// History is sent ahead of the prompt. When nil the transcript's
	// messages are used.
	History []model.Message

	Options *ollama.Options
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one question/answer exchange. It moves Idle to Streaming on
// Start and then to exactly one of Completed, Failed or Cancelled.
// A Session is single-use.
type Session struct {
	id         string
	cfg        Config
	upstream   Upstream
	transcript Transcript
	log        *zap.Logger
	limiter    *rate.Limiter

	mu       sync.Mutex
	status   stream.Status
	started  bool
	handlers Handlers
	user     model.Message
	partial  string
	result   model.Message
	err      error
	cancel   context.CancelCauseFunc

	box      *mailbox
	stopped  chan struct{} // closed on cancellation
	stopOnce sync.Once
	done     chan struct{} // closed when both goroutines have exited
}

// New creates an idle session. transcript may be nil, in which case
// completed replies are returned but not recorded.
func New(cfg Config, upstream Upstream, transcript Transcript) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		id:         generateSessionID(),
		cfg:        cfg,
		upstream:   upstream,
		transcript: transcript,
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.log = cfg.Logger.With(zap.String("session", s.id))
	s.box = newMailbox(cfg.Metrics.SnapshotCoalesced)
	if cfg.SnapshotRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SnapshotRate), 1)
	}
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current state.
func (s *Session) Status() stream.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Partial returns the text accumulated so far.
func (s *Session) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// Done is closed once the exchange has ended and every event was delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the exchange ends and returns the committed assistant
// message or the terminal *ExchangeError.
func (s *Session) Wait() (model.Message, error) {
	s.mu.Lock()
	if !s.started && s.status == stream.StatusIdle {
		s.mu.Unlock()
		return model.Message{}, ErrNotStarted
	}
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start sends the request and returns immediately; the reply is read on a
// background goroutine. ctx bounds the whole exchange; cancelling it has the
// same effect as Cancel.
func (s *Session) Start(ctx context.Context, req Request, h Handlers) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.started || s.status != stream.StatusIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.status = stream.StatusStreaming
	s.handlers = h
	s.user = model.NewUserMessage(req.Prompt)

	ctx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	history := req.History
	if history == nil && s.transcript != nil {
		history = s.transcript.Messages()
	}
	chat := ollama.ChatRequest{
		Model:    req.Model,
		Messages: buildMessages(history, req.Prompt),
		Stream:   s.cfg.Mode == ModeStream,
		Options:  req.Options,
	}

	s.log.Info("exchange started",
		zap.String("model", req.Model),
		zap.String("mode", string(s.cfg.Mode)),
		zap.Int("history", len(history)),
		zap.String("prompt", util.TruncateRunes(req.Prompt, 60)))
	s.cfg.Metrics.ExchangeStarted()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.read(ctx, chat)
	}()
	go func() {
		defer wg.Done()
		s.deliver()
	}()
	go func() {
		wg.Wait()
		cancel(nil)
		close(s.done)
	}()
	return nil
}

// Cancel stops the exchange. The state becomes Cancelled before Cancel
// returns, the upstream read is aborted and nothing is committed. No event
// handler starts after Cancel returns; one already running may finish.
//
// Cancel is idempotent and safe in any state. It has no effect once the
// exchange has completed or failed.
func (s *Session) Cancel() {
	s.abort(ErrCancelled)
}

// abort moves a non-terminal session to Cancelled.
func (s *Session) abort(cause error) bool {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}

	wasIdle := !s.started
	s.status = stream.StatusCancelled
	s.err = newError(KindCancelled, s.partial, cause, "exchange cancelled")
	cancel := s.cancel
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopped) })
	if cancel != nil {
		cancel(cause)
	}
	if wasIdle {
		close(s.done)
	}
	return true
}

// =============================================================================
// READER
// =============================================================================

func (s *Session) read(ctx context.Context, chat ollama.ChatRequest) {
	start := time.Now()
	pipe := stream.NewPipeline()
	defer pipe.Release()

	if s.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, s.cfg.MaxDuration, ErrMaxDuration)
		defer cancel()
	}

	ctx, cancelIdle := context.WithCancelCause(ctx)
	defer cancelIdle(nil)
	var idle *time.Timer
	if s.cfg.IdleTimeout > 0 {
		idle = time.AfterFunc(s.cfg.IdleTimeout, func() { cancelIdle(ErrIdleTimeout) })
		defer idle.Stop()
	}

	body, err := s.upstream.OpenChat(ctx, chat)
	if err != nil {
		s.end(ctx, pipe, err, start)
		return
	}
	defer body.Close()

	var (
		buf      = make([]byte, s.cfg.ReadBufferSize)
		document bytes.Buffer
		readErr  error
	)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(s.cfg.IdleTimeout)
			}
			if s.cfg.Mode == ModeBuffer {
				if int64(document.Len()+n) > s.cfg.MaxBufferedBytes {
					readErr = ErrReplyTooLarge
					break
				}
				document.Write(buf[:n])
			} else if !s.publish(pipe.Feed(buf[:n])) || pipe.Done() {
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	if readErr == nil {
		if s.cfg.Mode == ModeBuffer {
			s.publish(pipe.ParseDocument(document.Bytes()))
		} else {
			s.publish(pipe.Close())
		}
	}
	s.end(ctx, pipe, readErr, start)
}

// publish forwards one batch from the pipeline. It reports false once the
// session has left Streaming so the reader can stop early.
func (s *Session) publish(snaps []stream.Snapshot, bad []*stream.ParseError) bool {
	s.mu.Lock()
	if s.status != stream.StatusStreaming {
		s.mu.Unlock()
		return false
	}
	if len(snaps) > 0 {
		s.partial = snaps[len(snaps)-1].Text
	}
	s.mu.Unlock()

	for _, pe := range bad {
		s.log.Warn("skipping malformed line",
			zap.String("line", util.TruncateRunes(pe.RawLine, 80)),
			zap.Error(pe.Err))
		s.cfg.Metrics.MalformedLine()
		s.box.putMalformed(pe)
	}

	if len(snaps) > 0 {
		s.cfg.Metrics.FragmentsApplied(len(snaps))
		for range snaps[:len(snaps)-1] {
			s.cfg.Metrics.SnapshotCoalesced()
		}
		s.box.putSnapshot(snaps[len(snaps)-1].Text)
	}
	return true
}

// end decides the terminal state once reading stops.
func (s *Session) end(ctx context.Context, pipe *stream.Pipeline, err error, start time.Time) {
	acc := pipe.Accumulator()
	elapsed := time.Since(start)

	switch {
	case err != nil:
		s.fail(ctx, s.classify(ctx, err, acc.Text()), elapsed)
	case acc.Status() == stream.StatusCompleted:
		s.commit(acc, elapsed)
	case acc.Fragments() > 0 && acc.Text() != "":
		// Clean EOF without a final fragment still counts as an answer.
		_ = acc.Complete()
		s.commit(acc, elapsed)
	default:
		s.fail(ctx, newError(KindEmptyStream, acc.Text(), nil, "upstream closed the reply without any text"), elapsed)
	}
}

func (s *Session) commit(acc *stream.Accumulator, elapsed time.Duration) {
	s.mu.Lock()
	if s.status != stream.StatusStreaming {
		s.mu.Unlock()
		s.finished(elapsed)
		return
	}

	assistant := model.NewAssistantMessage(acc.Text(), acc.Stats())
	if s.transcript != nil {
		if err := s.transcript.AppendExchange(s.user, assistant); err != nil {
			ee := newError(KindCommit, acc.Text(), err, "could not record exchange")
			s.status = stream.StatusFailed
			s.err = ee
			s.mu.Unlock()
			s.box.putTerminal(&terminalEvent{err: ee})
			s.finished(elapsed)
			return
		}
	}
	s.status = stream.StatusCompleted
	s.result = assistant
	s.partial = assistant.Content
	s.mu.Unlock()

	s.box.putTerminal(&terminalEvent{msg: &assistant})
	s.finished(elapsed)
}

func (s *Session) fail(ctx context.Context, ee *ExchangeError, elapsed time.Duration) {
	if ee.Kind == KindCancelled {
		// Parent context cancellation, or Cancel raced the read.
		s.abort(context.Cause(ctx))
		s.finished(elapsed)
		return
	}

	s.mu.Lock()
	if s.status != stream.StatusStreaming {
		s.mu.Unlock()
		s.finished(elapsed)
		return
	}
	s.status = stream.StatusFailed
	s.err = ee
	s.mu.Unlock()

	s.box.putTerminal(&terminalEvent{err: ee})
	s.finished(elapsed)
}

func (s *Session) finished(elapsed time.Duration) {
	s.mu.Lock()
	status := s.status
	err := s.err
	size := len(s.partial)
	s.mu.Unlock()

	kind := ""
	fields := []zap.Field{
		zap.String("status", status.String()),
		zap.Duration("elapsed", elapsed),
		zap.Int("bytes", size),
	}
	if k, ok := KindOf(err); ok {
		kind = k.String()
		fields = append(fields, zap.Error(err))
	}
	if status == stream.StatusFailed {
		s.log.Warn("exchange finished", fields...)
	} else {
		s.log.Info("exchange finished", fields...)
	}
	s.cfg.Metrics.ExchangeFinished(status.String(), kind, elapsed)
}

// classify maps a request or read failure to an exchange error.
func (s *Session) classify(ctx context.Context, err error, partial string) *ExchangeError {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, ErrIdleTimeout), errors.Is(cause, ErrMaxDuration), errors.Is(cause, context.DeadlineExceeded):
			return newError(KindTimeout, partial, cause, "upstream did not finish in time")
		case errors.Is(cause, ErrCancelled), errors.Is(cause, context.Canceled):
			return newError(KindCancelled, partial, cause, "exchange cancelled")
		}
	}

	if errors.Is(err, ErrReplyTooLarge) {
		return newError(KindTransport, partial, err, "buffered reply exceeds %d bytes", s.cfg.MaxBufferedBytes)
	}

	var ce *ollama.ClientError
	if errors.As(err, &ce) {
		switch ce.Type {
		case ollama.ErrTypeStatus, ollama.ErrTypeModelNotFound:
			ee := newError(KindUpstreamStatus, partial, err, "upstream returned HTTP %d", ce.StatusCode)
			ee.StatusCode = ce.StatusCode
			return ee
		case ollama.ErrTypeTimeout:
			return newError(KindTimeout, partial, err, "upstream timed out")
		case ollama.ErrTypeCancelled:
			return newError(KindCancelled, partial, err, "exchange cancelled")
		}
	}
	return newError(KindTransport, partial, err, "connection to upstream failed")
}

// =============================================================================
// DELIVERY
// =============================================================================

func (s *Session) deliver() {
	for {
		select {
		case <-s.stopped:
			return
		case <-s.box.notify:
		}

		for {
			malformed, snap, hasSnap, term := s.box.take()
			if len(malformed) == 0 && !hasSnap && term == nil {
				break
			}

			for _, pe := range malformed {
				if !s.invoke(func(h Handlers) {
					if h.OnMalformed != nil {
						h.OnMalformed(pe)
					}
				}) {
					return
				}
			}

			if hasSnap {
				if !s.waitRate() {
					return
				}
				snap = s.box.takeSnapshot(snap)
				if !s.invoke(func(h Handlers) {
					if h.OnSnapshot != nil {
						h.OnSnapshot(snap)
					}
				}) {
					return
				}
				s.cfg.Metrics.SnapshotDelivered()
			}

			if term != nil {
				s.invoke(func(h Handlers) {
					switch {
					case term.msg != nil && h.OnComplete != nil:
						h.OnComplete(*term.msg)
					case term.err != nil && h.OnError != nil:
						h.OnError(term.err)
					}
				})
				return
			}
		}
	}
}

// invoke runs fn unless the session was cancelled. The check happens under
// the session lock, so once Cancel has returned no new call begins.
func (s *Session) invoke(fn func(Handlers)) bool {
	s.mu.Lock()
	if s.status == stream.StatusCancelled {
		s.mu.Unlock()
		return false
	}
	h := s.handlers
	s.mu.Unlock()

	fn(h)
	return true
}

// waitRate blocks until the limiter allows one more snapshot. A pending
// terminal event skips the wait so completion is never delayed.
func (s *Session) waitRate() bool {
	if s.limiter == nil || s.box.hasTerminal() {
		return true
	}
	r := s.limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case <-s.stopped:
			r.Cancel()
			return false
		case <-s.box.notify:
			if s.box.hasTerminal() {
				return true
			}
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func buildMessages(history []model.Message, prompt string) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}
	return append(msgs, ollama.NewUserMessage(prompt))
}

// generateSessionID creates a unique session ID.
func generateSessionID() string {
	return "sess_" + uuid.NewString()
}
