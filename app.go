package posenet

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// retryInterval Wait after a tick that produced nothing, either because no new
// frame is available or because a step failed
const retryInterval = 100 * time.Millisecond

// framePollInterval Wait while a bound source has no new frame yet
const framePollInterval = 5 * time.Millisecond

// Collaborators External pieces the pipeline drives
type Collaborators struct {
	Transport TextureTransport
	Model     Model
	Decoder   Decoder
	Drawer    Drawer
	Telemetry MessageSink
	Display   Display
}

// Application Main engine
type Application struct {
	settings    *AppSettings
	textures    *TextureAdapter
	estimator   *Estimator
	broadcaster *Broadcaster
	compositor  *Compositor
	display     Display
	closers     []io.Closer
	logger      *slog.Logger
}

// Session Per-run state of the frame pipeline. A fresh session is created for
// every Run; nothing in it outlives Release.
type Session struct {
	ID      uuid.UUID
	Source  TextureSource
	Sink    TextureSink
	Texture *Texture
	Counter FrameCounter
	// LastFrame is re-presented on ticks that produce no new overlay
	LastFrame FrameBuffer

	waiting  bool
	released bool
	logger   *slog.Logger
}

// NewApp wires the pipeline. Settings must already be valid.
func NewApp(settings *AppSettings, c Collaborators, logger *slog.Logger) (*Application, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if c.Transport == nil || c.Model == nil || c.Decoder == nil || c.Drawer == nil || c.Telemetry == nil || c.Display == nil {
		return nil, errors.New("all collaborators are required")
	}
	broadcaster, err := NewBroadcaster(c.Telemetry, settings.Telemetry.Encoding)
	if err != nil {
		return nil, err
	}

	app := &Application{
		settings:    settings,
		textures:    NewTextureAdapter(c.Transport),
		estimator:   NewEstimator(c.Model, c.Decoder),
		broadcaster: broadcaster,
		compositor:  NewCompositor(c.Drawer),
		display:     c.Display,
		logger:      logger,
	}
	for _, v := range []interface{}{c.Model, c.Telemetry, c.Display} {
		if closer, ok := v.(io.Closer); ok {
			app.closers = append(app.closers, closer)
		}
	}
	return app, nil
}

// Open publishes the outbound sink and allocates the working texture
func (app *Application) Open() (*Session, error) {
	tex := app.settings.Texture
	sink, err := app.textures.Publish(tex.SinkName, tex.Width, tex.Height)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	sess := &Session{
		ID:        id,
		Sink:      sink,
		Texture:   NewTexture(tex.Width, tex.Height, FormatRGBA),
		LastFrame: NewFrameBuffer(tex.Width, tex.Height, FormatRGB),
		logger:    app.logger.With("session", id.String()),
	}
	sess.logger.Info("session opened", "sink", tex.SinkName, "source", tex.SourceName, "width", tex.Width, "height", tex.Height)
	return sess, nil
}

// Release drops the source binding and the sink registration. Safe to call twice.
func (app *Application) Release(sess *Session) error {
	if sess == nil || sess.released {
		return nil
	}
	sess.released = true

	var firstErr error
	if sess.Source != nil {
		if err := app.textures.Release(sess.Source); err != nil {
			firstErr = errors.Wrap(err, "release source")
		}
		sess.Source = nil
	}
	if sess.Sink != nil {
		if err := app.textures.Release(sess.Sink); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "release sink")
		}
		sess.Sink = nil
	}
	sess.logger.Info("session released", "frame", sess.Counter.Value())
	return firstErr
}

// Run ticks until ctx is cancelled or the display asks to close. Texture
// handles are released on every return path.
func (app *Application) Run(ctx context.Context) (err error) {
	sess, err := app.Open()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := app.Release(sess); rerr != nil && err == nil {
			err = rerr
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil || app.display.ShouldClose() {
			sess.logger.Info("termination requested")
			return nil
		}

		tickErr := app.Tick(sess)
		if tickErr == nil {
			if failures > 0 {
				sess.logger.Info("pipeline recovered", "skipped", failures)
				failures = 0
			}
			continue
		}
		if !isWaitingForSource(tickErr) {
			if failures == 0 {
				sess.logger.Warn("tick skipped", "frame", sess.Counter.Value(), "err", tickErr)
			} else {
				sess.logger.Debug("tick skipped", "frame", sess.Counter.Value(), "err", tickErr)
			}
			failures++
		}
		wait := retryInterval
		if errors.Is(tickErr, ErrNoFrame) {
			wait = framePollInterval
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

func isWaitingForSource(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrNoFrame)
}

// Tick runs one frame cycle: receive, readback, estimate, broadcast, compose,
// publish, present. A failing step skips the rest of the tick and the previous
// frame stays on screen. The frame counter advances exactly once either way.
func (app *Application) Tick(sess *Session) error {
	defer sess.Counter.Advance()
	tex := app.settings.Texture

	if sess.Source == nil {
		src, err := app.textures.Acquire(tex.SourceName, tex.Width, tex.Height)
		if err != nil {
			app.waitForSource(sess, err)
			return err
		}
		sess.Source = src
		sess.waiting = false
		sess.logger.Info("bound to texture source", "source", tex.SourceName)
	}

	if err := app.textures.Receive(sess.Source, sess.Texture); err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			if rerr := app.textures.Release(sess.Source); rerr != nil {
				sess.logger.Debug("release of lost source failed", "err", rerr)
			}
			sess.Source = nil
			app.waitForSource(sess, err)
			return err
		}
		app.presentLast(sess)
		return err
	}
	sess.waiting = false

	capture, err := app.textures.Readback(sess.Texture, FormatRGB)
	if err != nil {
		app.presentLast(sess)
		return err
	}
	frame := capture.ToFrame()

	poses, err := app.estimator.Estimate(frame)
	if err != nil {
		app.presentLast(sess)
		return err
	}

	if err := app.broadcaster.Broadcast(poses); err != nil {
		sess.logger.Debug("telemetry dropped", "err", err)
	}

	views, err := app.compositor.Compose(frame, poses)
	if err != nil {
		app.presentLast(sess)
		return err
	}

	sendErr := app.publish(sess, views.Publish)

	if err := sess.Texture.Upload(views.Display); err != nil {
		app.presentLast(sess)
		return err
	}
	sess.LastFrame = views.Display
	if err := app.display.Present(views.Display); err != nil {
		return errors.Wrap(err, "present")
	}
	return sendErr
}

// publish uploads the mirrored view and sends it flagged as bottom-up
func (app *Application) publish(sess *Session, mirrored FrameBuffer) error {
	if err := sess.Texture.Upload(mirrored); err != nil {
		return err
	}
	tex := app.settings.Texture
	return app.textures.Send(sess.Sink, sess.Texture, tex.Width, tex.Height, true)
}

func (app *Application) waitForSource(sess *Session, err error) {
	if !sess.waiting {
		sess.logger.Warn("waiting for texture source", "source", app.settings.Texture.SourceName, "err", err)
		sess.waiting = true
	}
	app.presentLast(sess)
}

func (app *Application) presentLast(sess *Session) {
	if err := app.display.Present(sess.LastFrame); err != nil {
		sess.logger.Debug("present failed", "err", err)
	}
}

// Close Free memory for underlying objects
func (app *Application) Close() error {
	var firstErr error
	for _, c := range app.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	app.closers = nil
	return firstErr
}
