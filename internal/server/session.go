package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictoxa/internal/dictation"
)

func (s *Server) handleDictate(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx := r.Context()
	p, err := s.factory.NewPipeline(ctx)
	if err != nil {
		slog.Error("failed to create pipeline", "err", err)
		conn.Close(websocket.StatusInternalError, "pipeline unavailable")
		return
	}
	defer p.Destroy()

	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	sess := &session{
		conn:        conn,
		pipeline:    p,
		defaultMode: s.factory.DefaultMode(),
		refresh:     s.factory.RefreshDictionary,
		out:         make(chan event, outboundQueue),
	}
	slog.Info("dictation client connected", "remote", r.RemoteAddr)
	err = sess.serve(ctx)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		slog.Warn("dictation connection ended", "err", err, "remote", r.RemoteAddr)
		conn.Close(websocket.StatusInternalError, "internal error")
	}
	slog.Info("dictation client disconnected", "remote", r.RemoteAddr)
}

// session is one WebSocket client bound to one pipeline.
type session struct {
	conn        *websocket.Conn
	pipeline    *dictation.Pipeline
	defaultMode dictation.Mode
	refresh     func(context.Context, *dictation.Pipeline) error

	// out is drained by the writer goroutine. Pipeline callbacks never block
	// on it: level and partial frames are dropped when it is full.
	out chan event
}

func (s *session) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	s.pipeline.SetEvents(s.events(gctx))
	cfg := s.pipeline.Config()
	s.send(gctx, event{
		Type:       evReady,
		Mode:       string(s.defaultMode),
		SampleRate: cfg.InputSampleRate,
		Channels:   cfg.InputChannels,
	}, false)

	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error {
		defer cancel()
		return s.readLoop(gctx, g)
	})

	err := g.Wait()
	// Stop callbacks before out is abandoned.
	s.pipeline.SetEvents(dictation.Events{})
	return err
}

func (s *session) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			s.pipeline.ProcessAudio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, fmt.Errorf("malformed control frame: %w", err))
			continue
		}
		s.handle(ctx, g, msg)
	}
}

func (s *session) handle(ctx context.Context, g *errgroup.Group, msg clientMessage) {
	switch msg.Type {
	case msgStart:
		mode := dictation.Mode(msg.Mode)
		if mode == "" {
			mode = s.defaultMode
		}
		switch s.pipeline.State() {
		case dictation.StateIdle, dictation.StateError:
			if err := s.refresh(ctx, s.pipeline); err != nil {
				slog.Warn("dictionary reload failed, keeping previous entries", "err", err)
			}
		}
		if err := s.pipeline.StartRecording(ctx, mode); err != nil {
			s.sendError(ctx, err)
		}

	case msgStop:
		// Results and transcription errors arrive through the pipeline
		// events; the reader keeps serving so cancel stays responsive.
		g.Go(func() error {
			_, _ = s.pipeline.StopRecording(ctx)
			return nil
		})

	case msgCancel:
		s.pipeline.Cancel()

	case msgCommand:
		if msg.Instruction == "" {
			s.sendError(ctx, errors.New("command: instruction is required"))
			return
		}
		g.Go(func() error {
			text, err := s.pipeline.ExecuteCommand(ctx, msg.Selected, msg.Instruction)
			if err == nil {
				s.send(ctx, event{Type: evCommand, Text: text}, false)
			}
			return nil
		})

	case msgConfig:
		if msg.SampleRate < 8000 || msg.SampleRate > 192000 || msg.Channels < 1 || msg.Channels > 8 {
			s.sendError(ctx, fmt.Errorf("config: unsupported format %d Hz x %d", msg.SampleRate, msg.Channels))
			return
		}
		s.pipeline.SetInputFormat(msg.SampleRate, msg.Channels)

	case msgSnapshot:
		s.send(ctx, event{
			Type:       evSnapshot,
			SessionID:  s.pipeline.SessionID(),
			Audio:      s.pipeline.Snapshot(),
			SampleRate: s.pipeline.Config().TargetSampleRate,
			Channels:   1,
		}, false)

	default:
		s.sendError(ctx, fmt.Errorf("unknown frame type %q", msg.Type))
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.out:
			if err := wsjson.Write(ctx, s.conn, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("server: write: %w", err)
			}
		}
	}
}

func (s *session) events(ctx context.Context) dictation.Events {
	return dictation.Events{
		OnStateChange: func(st dictation.State) {
			s.send(ctx, event{Type: evState, State: st.String(), SessionID: s.pipeline.SessionID()}, false)
		},
		OnPartialTranscript: func(text string) {
			s.send(ctx, event{Type: evPartial, Text: text}, true)
		},
		OnAudioLevel: func(level float64) {
			s.send(ctx, event{Type: evLevel, Level: &level}, true)
		},
		OnResult: func(r *dictation.Result) {
			s.send(ctx, event{Type: evResult, SessionID: r.SessionID, Result: r}, false)
		},
		OnError: func(err error) {
			s.sendError(ctx, err)
		},
	}
}

// send queues ev. Droppable frames are discarded when the queue is full;
// others wait until the connection ends.
func (s *session) send(ctx context.Context, ev event, droppable bool) {
	if droppable {
		select {
		case s.out <- ev:
		default:
		}
		return
	}
	select {
	case s.out <- ev:
	case <-ctx.Done():
	}
}

func (s *session) sendError(ctx context.Context, err error) {
	s.send(ctx, event{Type: evError, Error: err.Error()}, false)
}
