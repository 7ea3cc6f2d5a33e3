package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/jobqueue"
	"github.com/auralis/auralis-go/internal/observability/metrics"
)

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// serveConn runs one stream session to completion: announce the negotiated
// config, pump inbound frames, then perform the orderly stop.
func (s *Server) serveConn(cn *conn) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	cn.cancel = cancel

	s.wg.Add(1)
	go s.statusLoop(ctx, cn)

	s.sendStreamStart(cn)
	s.cacheStatus(cn)

	s.readLoop(ctx, cn)

	cancel()
	s.teardown(cn)
}

// sendStreamStart announces the negotiated format as the first frame.
func (s *Server) sendStreamStart(cn *conn) {
	cfg := s.processor.Config()
	st := cn.status()
	msg := &StreamMessage{
		Event:     EventStreamStart,
		Timestamp: nowMicros(),
		Data: &FrameData{
			Sequence: cn.claimSeq(),
			Config: &StreamConfig{
				SampleRate:   cfg.SampleRate,
				BitDepth:     cfg.BitDepth,
				Channels:     cfg.Channels,
				BufferSize:   cfg.BufferSize,
				MaxLatencyMs: cfg.LatencyMs(),
				Tier:         cfg.Tier.String(),
			},
		},
		Status: &st,
	}
	if err := s.send(cn, msg); err != nil {
		s.logger.Warn("failed to announce stream config", "id", cn.id, "error", err)
	}
}

// readLoop pumps inbound frames until the transport closes or the client
// requests a stop.
func (s *Server) readLoop(ctx context.Context, cn *conn) {
	ws := cn.ws
	// Leave room for the msgpack envelope, and enough slack above the
	// payload ceiling that oversized payloads fail with an error frame
	// instead of a transport close.
	ws.SetReadLimit(2 * int64(s.maxPayload+4096))
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				s.logger.Debug("stream read ended", "id", cn.id, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType != websocket.BinaryMessage {
			s.sendError(cn, 0, errors.Newf("stream frames must be binary msgpack").
				Component("gateway").
				Category(errors.CategoryValidation).
				Build())
			continue
		}

		if stop := s.handleFrame(ctx, cn, raw); stop {
			return
		}
	}
}

// handleFrame dispatches one decoded frame. It reports true when the client
// asked for an orderly stop.
func (s *Server) handleFrame(ctx context.Context, cn *conn, raw []byte) bool {
	msg, err := DecodeMessage(raw)
	if err != nil {
		s.sendError(cn, 0, err)
		return false
	}

	now := time.Now()
	cn.touch(now)

	if s.metrics != nil {
		payload := 0
		if msg.Data != nil {
			payload = len(msg.Data.Buffer)
		}
		s.metrics.RecordMessage(metrics.DirectionIn, string(msg.Event), payload)
	}

	switch msg.Event {
	case EventAudioData:
		s.handleAudio(ctx, cn, msg, now)
	case EventStreamStop:
		s.logger.Info("client requested stream stop", "id", cn.id)
		return true
	case EventBufferStatus:
		cn.applyBufferStatus(msg.Status)
	case EventLatencyReport:
		if msg.Data != nil {
			cn.applyLatencyReport(msg.Data.LatencyMs)
		}
	case EventHeadPosition:
		if msg.Data != nil {
			cn.setHead(msg.Data.Position)
		}
	default:
		s.sendError(cn, 0, errors.Newf("unsupported inbound event %q", msg.Event).
			Component("gateway").
			Category(errors.CategoryValidation).
			Build())
	}
	return false
}

// handleAudio carries one audio frame through validation, the pipeline and
// the reply. Failures produce an error frame and bump the connection's
// counters; the stream itself survives.
func (s *Server) handleAudio(ctx context.Context, cn *conn, msg *StreamMessage, received time.Time) {
	if msg.Data == nil {
		s.sendError(cn, 0, errors.Newf("audio-data frame without data block").
			Component("gateway").
			Category(errors.CategoryValidation).
			Build())
		return
	}
	data := msg.Data
	seq := data.Sequence

	if !cn.allowInbound() {
		if s.metrics != nil {
			s.metrics.RecordRateLimited()
		}
		return
	}

	if err := s.validatePayload(data.Buffer); err != nil {
		s.sendError(cn, seq, err)
		return
	}

	if Checksum(data.Buffer) != data.Checksum {
		cn.noteLost()
		if s.metrics != nil {
			s.metrics.RecordChecksumFailure()
		}
		s.sendError(cn, seq, errors.Newf("checksum mismatch on frame %d", seq).
			Component("gateway").
			Category(errors.CategoryValidation).
			Context("expected", data.Checksum).
			Build())
		return
	}

	cn.noteInbound(data.Timestamp, received)

	samples, err := DecodeSamples(data.Buffer)
	if err != nil {
		s.sendError(cn, seq, err)
		return
	}

	buf, err := s.processor.Acquire()
	if err != nil {
		cn.noteDropout()
		if s.metrics != nil {
			s.metrics.RecordDropout()
		}
		s.sendError(cn, seq, errors.New(err).
			Component("gateway").
			Category(errors.CategoryResource).
			Build())
		return
	}
	if err := buf.CopyFrom(samples); err != nil {
		_ = buf.Release()
		cn.noteDropout()
		if s.metrics != nil {
			s.metrics.RecordDropout()
		}
		s.sendError(cn, seq, errors.New(err).
			Component("gateway").
			Category(errors.CategoryValidation).
			BufferContext(len(samples), buf.Cap()).
			Build())
		return
	}
	buf.SetCapturedAt(received)

	res, err := s.processor.Process(ctx, buf, jobqueue.PriorityNormal)
	if err != nil {
		cn.noteDropout()
		if s.metrics != nil {
			s.metrics.RecordDropout()
		}
		s.sendError(cn, seq, err)
		return
	}

	payload := EncodeSamples(res.Buffer.Samples())
	_ = res.Buffer.Release()

	outSeq := seq + 1 // uint16, wraps 65535 back to 0
	cn.noteProcessed(res.Metrics.ProcessingTime.Seconds()*1000, outSeq)

	if cn.noteEnhanced(res.Enhanced) {
		s.sendEnhancementStatus(cn, res.Enhanced)
	}

	st := cn.status()
	reply := &StreamMessage{
		Event:     EventAudioData,
		Timestamp: nowMicros(),
		Data: &FrameData{
			Buffer:    payload,
			Sequence:  outSeq,
			Timestamp: nowMicros(),
			Checksum:  Checksum(payload),
		},
		Status: &st,
	}
	s.cacheStatus(cn)
	if err := s.send(cn, reply); err == nil && s.metrics != nil {
		s.metrics.ObserveLatency(time.Since(received).Seconds())
	}
}

// validatePayload enforces the wire limits before any decoding happens.
func (s *Server) validatePayload(payload []byte) error {
	if len(payload) == 0 {
		return errors.Newf("audio payload is empty").
			Component("gateway").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(payload) > s.maxPayload {
		return errors.Newf("audio payload %d bytes exceeds limit %d", len(payload), s.maxPayload).
			Component("gateway").
			Category(errors.CategoryValidation).
			Build()
	}
	samples := len(payload) / bytesPerSample
	if samples < conf.MinBufferSize || samples > conf.MaxBufferSize {
		return errors.Newf("sample count %d outside range [%d, %d]", samples, conf.MinBufferSize, conf.MaxBufferSize).
			Component("gateway").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// sendEnhancementStatus tells the client the enhancement mode flipped.
func (s *Server) sendEnhancementStatus(cn *conn, enhanced bool) {
	st := cn.status()
	msg := &StreamMessage{
		Event:     EventEnhancementStatus,
		Timestamp: nowMicros(),
		Data: &FrameData{
			Sequence: cn.claimSeq(),
			Enhanced: &enhanced,
		},
		Status: &st,
	}
	_ = s.send(cn, msg)
}

// sendError emits a structured error frame. seq echoes the inbound frame the
// error refers to, zero for protocol level failures.
func (s *Server) sendError(cn *conn, seq uint16, err error) {
	code := string(errors.CategoryGeneric)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		code = ee.GetCategory()
	}
	st := cn.status()
	msg := &StreamMessage{
		Event:     EventError,
		Timestamp: nowMicros(),
		Data: &FrameData{
			Sequence: seq,
			Message:  err.Error(),
			Code:     code,
		},
		Status: &st,
	}
	_ = s.send(cn, msg)
}

// send serializes and writes one frame under the connection's write mutex.
func (s *Server) send(cn *conn, msg *StreamMessage) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}

	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	if err := cn.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return errors.New(err).
			Component("gateway").
			Category(errors.CategoryWebSocket).
			Context("event", string(msg.Event)).
			Build()
	}

	if s.metrics != nil {
		payload := 0
		if msg.Data != nil {
			payload = len(msg.Data.Buffer)
		}
		s.metrics.RecordMessage(metrics.DirectionOut, string(msg.Event), payload)
	}
	return nil
}

// statusLoop flushes the connection's quality block on a fixed cadence and
// keeps listen-only clients alive with pings. A failed write closes the
// socket so the read loop notices promptly.
func (s *Server) statusLoop(ctx context.Context, cn *conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.statusInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := cn.status()
			msg := &StreamMessage{
				Event:     EventProcessingStatus,
				Timestamp: nowMicros(),
				Data:      &FrameData{Sequence: cn.claimSeq()},
				Status:    &st,
			}
			if err := s.send(cn, msg); err != nil {
				_ = cn.ws.Close()
				return
			}
			_ = cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout()))
			s.cacheStatus(cn)
		}
	}
}

// teardown performs the orderly stop: final status flush with the active
// flag cleared, close frame, deregistration. The snapshot stays cached for
// the status endpoint until its TTL expires.
func (s *Server) teardown(cn *conn) {
	if cn.deactivate() {
		st := cn.status()
		final := &StreamMessage{
			Event:     EventStreamStop,
			Timestamp: nowMicros(),
			Data:      &FrameData{Sequence: cn.claimSeq()},
			Status:    &st,
		}
		_ = s.send(cn, final)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = cn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout()))
	_ = cn.ws.Close()

	active := s.deregister(cn)
	if s.metrics != nil {
		s.metrics.SetActiveConnections(active)
	}
	s.cacheStatus(cn)

	snap := cn.snapshot()
	s.logger.Info("stream closed",
		"id", cn.id,
		"remote", cn.remote,
		"frames_in", snap.FramesIn,
		"frames_out", snap.FramesOut,
		"dropouts", snap.Status.Dropouts,
		"packets_lost", snap.Status.PacketsLost)
}
