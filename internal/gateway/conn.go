package gateway

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ewmaWeight smooths per connection latency, jitter and inter-arrival
// estimates: 90% history, 10% newest, same weighting the quality monitor
// uses for THD.
const ewmaWeight = 0.9

// ConnectionStatus is the REST snapshot of one connection, served by
// /api/v1/connections. Closed connections linger in the snapshot cache until
// their TTL expires so short lived streams remain inspectable.
type ConnectionStatus struct {
	ID           string        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	Active       bool          `json:"active"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity"`
	FramesIn     uint64        `json:"frames_in"`
	FramesOut    uint64        `json:"frames_out"`
	Status       StreamStatus  `json:"status"`
	HeadPosition *HeadPosition `json:"head_position,omitempty"`
}

// conn is the state machine of one websocket stream. The write mutex
// serializes data frames; control frames go through WriteControl which
// gorilla allows concurrently.
type conn struct {
	id     string
	remote string
	ws     *websocket.Conn

	writeMu sync.Mutex

	limiter *rate.Limiter // nil when the inbound guard is disabled

	cancel context.CancelFunc // stops the status flusher

	mu           sync.Mutex
	active       bool
	startedAt    time.Time
	lastActivity time.Time
	outSeq       uint16
	framesIn     uint64
	framesOut    uint64

	latencyMs   float64
	bufferLevel int
	underruns   uint64
	overruns    uint64
	dropouts    uint64
	packetsLost uint64

	lastArrival time.Time
	meanGapMs   float64
	jitterMs    float64

	clockBase   time.Duration
	clockBaseAt time.Time
	clockDrift  float64

	enhanced    bool
	enhancedSet bool

	head *HeadPosition
}

func newConn(id, remote string, ws *websocket.Conn, inboundRate float64, burst int) *conn {
	c := &conn{
		id:           id,
		remote:       remote,
		ws:           ws,
		active:       true,
		startedAt:    time.Now(),
		lastActivity: time.Now(),
	}
	if inboundRate > 0 {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(inboundRate), burst)
	}
	return c
}

// allowInbound applies the inbound rate guard. A rejected frame counts as a
// buffer overrun on the connection rather than ending it.
func (c *conn) allowInbound() bool {
	if c.limiter == nil || c.limiter.Allow() {
		return true
	}
	c.mu.Lock()
	c.overruns++
	c.mu.Unlock()
	return false
}

// noteInbound folds one accepted audio frame into the arrival statistics.
// Jitter is the smoothed deviation from the smoothed inter-arrival gap, and
// clock drift is the slope of the client-server clock offset in seconds per
// second, so a client clock running slow reports positive drift.
func (c *conn) noteInbound(clientMicros int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesIn++
	c.lastActivity = now

	if !c.lastArrival.IsZero() {
		gapMs := now.Sub(c.lastArrival).Seconds() * 1000
		if c.meanGapMs == 0 {
			c.meanGapMs = gapMs
		} else {
			c.meanGapMs = ewmaWeight*c.meanGapMs + (1-ewmaWeight)*gapMs
		}
		dev := math.Abs(gapMs - c.meanGapMs)
		c.jitterMs = ewmaWeight*c.jitterMs + (1-ewmaWeight)*dev
	}
	c.lastArrival = now

	if clientMicros > 0 {
		offset := now.Sub(time.UnixMicro(clientMicros))
		if c.clockBaseAt.IsZero() {
			c.clockBase = offset
			c.clockBaseAt = now
		} else if elapsed := now.Sub(c.clockBaseAt); elapsed >= time.Second {
			c.clockDrift = (offset - c.clockBase).Seconds() / elapsed.Seconds()
		}
	}
}

// noteProcessed records one successfully processed frame. The buffer level
// is not touched here: the playback side owns it and reports it through
// buffer-status frames.
func (c *conn) noteProcessed(latencyMs float64, seq uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latencyMs == 0 {
		c.latencyMs = latencyMs
	} else {
		c.latencyMs = ewmaWeight*c.latencyMs + (1-ewmaWeight)*latencyMs
	}
	c.framesOut++
	// Subsequent non-audio frames continue the sequence after the reply.
	c.outSeq = seq + 1
}

func (c *conn) noteDropout() {
	c.mu.Lock()
	c.dropouts++
	c.mu.Unlock()
}

func (c *conn) noteLost() {
	c.mu.Lock()
	c.packetsLost++
	c.mu.Unlock()
}

// noteEnhanced tracks the enhancement flag across frames and reports when it
// flips so the client can be told once per transition.
func (c *conn) noteEnhanced(enhanced bool) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enhancedSet && c.enhanced == enhanced {
		return false
	}
	c.enhanced = enhanced
	c.enhancedSet = true
	return true
}

// claimSeq hands out the next outbound sequence number for frames that are
// not audio replies.
func (c *conn) claimSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.outSeq
	c.outSeq++
	return s
}

func (c *conn) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// applyBufferStatus merges a playback side buffer report. The client is
// authoritative for its own buffer level and underrun total; the merge keeps
// the underrun counter monotonic.
func (c *conn) applyBufferStatus(st *StreamStatus) {
	if st == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	level := st.BufferLevel
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	c.bufferLevel = level
	if st.BufferUnderruns > c.underruns {
		c.underruns = st.BufferUnderruns
	}
}

// applyLatencyReport folds a client measured end to end latency into the
// smoothed latency estimate.
func (c *conn) applyLatencyReport(ms float64) {
	if ms <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latencyMs == 0 {
		c.latencyMs = ms
	} else {
		c.latencyMs = ewmaWeight*c.latencyMs + (1-ewmaWeight)*ms
	}
}

func (c *conn) setHead(p *HeadPosition) {
	if p == nil {
		return
	}
	c.mu.Lock()
	cp := *p
	c.head = &cp
	c.mu.Unlock()
}

// deactivate clears the active flag and reports whether the connection was
// still streaming, so teardown performs the orderly stop exactly once.
func (c *conn) deactivate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.active
	c.active = false
	return was
}

// status snapshots the protocol quality block.
func (c *conn) status() StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StreamStatus{
		IsActive:        c.active,
		Latency:         c.latencyMs,
		BufferLevel:     c.bufferLevel,
		Dropouts:        c.dropouts,
		PacketsLost:     c.packetsLost,
		Jitter:          c.jitterMs,
		ClockDrift:      c.clockDrift,
		BufferUnderruns: c.underruns,
		BufferOverruns:  c.overruns,
	}
}

// snapshot builds the REST view of the connection.
func (c *conn) snapshot() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := ConnectionStatus{
		ID:           c.id,
		RemoteAddr:   c.remote,
		Active:       c.active,
		StartedAt:    c.startedAt,
		LastActivity: c.lastActivity,
		FramesIn:     c.framesIn,
		FramesOut:    c.framesOut,
		Status: StreamStatus{
			IsActive:        c.active,
			Latency:         c.latencyMs,
			BufferLevel:     c.bufferLevel,
			Dropouts:        c.dropouts,
			PacketsLost:     c.packetsLost,
			Jitter:          c.jitterMs,
			ClockDrift:      c.clockDrift,
			BufferUnderruns: c.underruns,
			BufferOverruns:  c.overruns,
		},
	}
	if c.head != nil {
		hp := *c.head
		cs.HeadPosition = &hp
	}
	return cs
}
