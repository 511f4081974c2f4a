package posenet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/hybridgroup/mjpeg"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"gocv.io/x/gocv"
)

const escKey = 27

// Display Local presentation surface
type Display interface {
	// Present shows a top-down frame
	Present(frame FrameBuffer) error
	// ShouldClose reports a pending close request
	ShouldClose() bool
	Close() error
}

// toBGR converts a frame into a BGR gocv.Mat. Caller must close it.
func toBGR(frame FrameBuffer) (gocv.Mat, error) {
	src, err := frame.Mat()
	if err != nil {
		return src, err
	}
	defer src.Close()

	code := gocv.ColorRGBToBGR
	if frame.Format == FormatRGBA {
		code = gocv.ColorRGBAToBGR
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	return dst, nil
}

// WindowDisplay Shows frames in a HighGUI window. ESC or the window's close
// button requests termination.
type WindowDisplay struct {
	window *gocv.Window
	shown  bool
	quit   bool
}

// NewWindowDisplay opens a window sized to the texture
func NewWindowDisplay(title string, width, height int) *WindowDisplay {
	window := gocv.NewWindow(title)
	window.ResizeWindow(width, height)
	return &WindowDisplay{window: window}
}

func (d *WindowDisplay) Present(frame FrameBuffer) error {
	img, err := toBGR(frame)
	if err != nil {
		return err
	}
	defer img.Close()

	d.window.IMShow(img)
	d.shown = true
	if d.window.WaitKey(1) == escKey {
		d.quit = true
	}
	return nil
}

// ShouldClose also checks visibility: HighGUI destroys the window when its
// close button is clicked while gocv still reports it open.
func (d *WindowDisplay) ShouldClose() bool {
	if d.quit || !d.window.IsOpen() {
		return true
	}
	return d.shown && windowDismissed(d.window.GetWindowProperty(gocv.WindowPropertyVisible))
}

// windowDismissed interprets the WindowPropertyVisible value of a shown window
func windowDismissed(visible float64) bool {
	return visible < 1
}

func (d *WindowDisplay) Close() error {
	return d.window.Close()
}

// MJPEGDisplay Serves presented frames as an MJPEG stream over HTTP
type MJPEGDisplay struct {
	stream *mjpeg.Stream
	server *http.Server
	logger *slog.Logger
}

// NewMJPEGDisplay starts the MJPEG server in a separate goroutine
func NewMJPEGDisplay(port int, logger *slog.Logger) *MJPEGDisplay {
	stream := mjpeg.NewStream()

	router := mux.NewRouter()
	router.Handle("/", stream)
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
	})

	d := &MJPEGDisplay{
		stream: stream,
		server: &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", port), Handler: c.Handler(router)},
		logger: logger,
	}
	go func() {
		logger.Info("starting MJPEG", "url", fmt.Sprintf("http://localhost:%d", port))
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("MJPEG server stopped", "err", err)
		}
	}()
	return d
}

func (d *MJPEGDisplay) Present(frame FrameBuffer) error {
	img, err := toBGR(frame)
	if err != nil {
		return err
	}
	defer img.Close()

	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return errors.Wrap(err, "Error while encoding to JPG (mjpeg)")
	}
	defer buf.Close()
	d.stream.UpdateJPEG(buf.GetBytes())
	return nil
}

func (d *MJPEGDisplay) ShouldClose() bool {
	return false
}

func (d *MJPEGDisplay) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return d.server.Shutdown(ctx)
}

// HeadlessDisplay Keeps the last presented frame without showing it
type HeadlessDisplay struct {
	closeRequested atomic.Bool
	presented      int
	last           FrameBuffer
}

func (d *HeadlessDisplay) Present(frame FrameBuffer) error {
	d.presented++
	d.last = frame
	return nil
}

// RequestClose simulates a window close event
func (d *HeadlessDisplay) RequestClose() {
	d.closeRequested.Store(true)
}

func (d *HeadlessDisplay) ShouldClose() bool {
	return d.closeRequested.Load()
}

// Presented returns how many frames were presented
func (d *HeadlessDisplay) Presented() int {
	return d.presented
}

// Last returns the most recently presented frame
func (d *HeadlessDisplay) Last() FrameBuffer {
	return d.last
}

func (d *HeadlessDisplay) Close() error {
	return nil
}

// MultiDisplay Fans frames out to several displays
type MultiDisplay []Display

func (m MultiDisplay) Present(frame FrameBuffer) error {
	var firstErr error
	for _, d := range m {
		if err := d.Present(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiDisplay) ShouldClose() bool {
	for _, d := range m {
		if d.ShouldClose() {
			return true
		}
	}
	return false
}

func (m MultiDisplay) Close() error {
	var firstErr error
	for _, d := range m {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
