package drawing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/clock"
	"github.com/jason-s-yu/drawguess/internal/models"
	"github.com/jason-s-yu/drawguess/internal/realtime"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultThrottle is the coalescing window for outbound stroke updates.
	DefaultThrottle = 50 * time.Millisecond

	sendTimeout = 5 * time.Second
)

// Channel is the part of a room channel the replicator needs.
type Channel interface {
	AttachListener(kind realtime.Kind, h realtime.Handler) bool
	Broadcast(ctx context.Context, msg realtime.Message) error
}

// Pen is the style applied to strokes started after it is set.
type Pen struct {
	Tool  models.Tool
	Color string
	Width float32
}

// Config configures a Replicator. Zero fields take defaults.
type Config struct {
	Identity uuid.UUID
	Clock    clock.Clock
	Logger   *logrus.Logger
	Throttle time.Duration
}

// Replicator keeps a local canvas in sync with the room. It sends at most one
// drawing message per throttle window for the stroke in progress, each carrying
// the stroke's full point list.
type Replicator struct {
	ch       Channel
	canvas   *Canvas
	self     uuid.UUID
	clk      clock.Clock
	log      *logrus.Entry
	throttle time.Duration

	mu      sync.Mutex
	pen     Pen
	current *models.Stroke
	timer   clock.Timer
	gen     uint64
	stopped bool

	// OnRemote, if set, runs after a remote drawing or clear changed the canvas.
	OnRemote func()
}

func NewReplicator(ch Channel, canvas *Canvas, cfg Config) *Replicator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	return &Replicator{
		ch:       ch,
		canvas:   canvas,
		self:     cfg.Identity,
		clk:      cfg.Clock,
		log:      cfg.Logger.WithField("user", cfg.Identity),
		throttle: cfg.Throttle,
		pen:      Pen{Tool: models.ToolPen, Color: "#000000", Width: 4},
	}
}

// Attach binds the drawing and clear listeners on the channel. Binding is per
// channel, so a second replicator on the same channel does not receive.
func (r *Replicator) Attach() bool {
	drawing := r.ch.AttachListener(realtime.KindDrawing, r.handleDrawing)
	wipe := r.ch.AttachListener(realtime.KindClear, r.handleClear)
	if !drawing || !wipe {
		r.log.Debug("Drawing listeners already bound on channel")
	}
	return drawing && wipe
}

func (r *Replicator) Canvas() *Canvas {
	return r.canvas
}

// SetPen changes the pen used for the next stroke. An unknown tool draws with the pen.
func (r *Replicator) SetPen(p Pen) {
	if !p.Tool.Valid() {
		p.Tool = models.ToolPen
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pen = p
}

// PointerDown starts a stroke at p and returns its id. A stroke still in
// progress is finished first.
func (r *Replicator) PointerDown(p models.Point) string {
	r.PointerUp()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ""
	}
	now := r.clk.Now()
	s := &models.Stroke{
		ID:        models.NewStrokeID(now),
		AuthorID:  r.self,
		Tool:      r.pen.Tool,
		Color:     r.pen.Color,
		Width:     r.pen.Width,
		Points:    []models.Point{p},
		Timestamp: now.UnixMilli(),
	}
	r.current = s
	r.mu.Unlock()

	r.canvas.Apply(*s)
	return s.ID
}

// PointerMove extends the current stroke and arms the throttle if it is idle.
func (r *Replicator) PointerMove(p models.Point) {
	r.mu.Lock()
	if r.current == nil || r.stopped {
		r.mu.Unlock()
		return
	}
	r.current.Points = append(r.current.Points, p)
	local := r.current.Clone()
	if r.timer == nil {
		r.gen++
		gen := r.gen
		r.timer = r.clk.AfterFunc(r.throttle, func() { r.flushTimer(gen) })
	}
	r.mu.Unlock()

	r.canvas.Apply(local)
}

// PointerUp cancels any armed throttle and sends the final stroke state.
func (r *Replicator) PointerUp() {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return
	}
	r.disarm()
	final := r.current.Clone()
	r.current = nil
	r.mu.Unlock()

	r.send(realtime.DrawingMessage{Stroke: final})
}

func (r *Replicator) flushTimer(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.timer == nil {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	if r.current == nil {
		r.mu.Unlock()
		return
	}
	snapshot := r.current.Clone()
	r.mu.Unlock()

	r.send(realtime.DrawingMessage{Stroke: snapshot})
}

// disarm stops the throttle timer. Assumes lock is held.
func (r *Replicator) disarm() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

// Clear wipes the local canvas and tells the room to do the same.
func (r *Replicator) Clear(ctx context.Context) {
	r.Reset()
	if err := r.ch.Broadcast(ctx, realtime.ClearMessage{UserID: r.self}); err != nil {
		r.log.WithError(err).Warn("Clear broadcast failed")
	}
}

// Reset wipes the local canvas and abandons the stroke in progress without
// sending anything.
func (r *Replicator) Reset() {
	r.mu.Lock()
	r.disarm()
	r.current = nil
	r.mu.Unlock()
	r.canvas.Clear()
}

// Stop cancels the throttle timer and ignores further input.
func (r *Replicator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disarm()
	r.current = nil
	r.stopped = true
}

func (r *Replicator) send(msg realtime.DrawingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := r.ch.Broadcast(ctx, msg); err != nil {
		r.log.WithError(err).WithField("stroke", msg.Stroke.ID).Debug("Stroke send failed, next flush will retry")
	}
}

func (r *Replicator) handleDrawing(env realtime.Envelope) {
	m, ok := env.Message.(realtime.DrawingMessage)
	if !ok || env.Author == r.self {
		return
	}
	s := m.Stroke
	s.AuthorID = env.Author
	if r.canvas.Apply(s) && r.OnRemote != nil {
		r.OnRemote()
	}
}

func (r *Replicator) handleClear(env realtime.Envelope) {
	if env.Author == r.self {
		return
	}
	r.canvas.Clear()
	if r.OnRemote != nil {
		r.OnRemote()
	}
}
