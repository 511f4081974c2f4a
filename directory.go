package posenet

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoFrame Publisher is registered but has not written a frame since the
// last receive
var ErrNoFrame = errors.New("publisher has no new frame")

// Directory In-process registry of named shared textures. Publishers announce a
// name, receivers bind to it by name. It is the only object in the package
// shared between goroutines, so everything on it is guarded by mu.
type Directory struct {
	mu        sync.Mutex
	entries   map[string]*Publication
	receivers map[string]int
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		entries:   make(map[string]*Publication),
		receivers: make(map[string]int),
	}
}

// Publication One named texture registered in a Directory
type Publication struct {
	Name   string
	Width  int
	Height int

	dir      *Directory
	frame    FrameBuffer
	bottomUp bool
	seq      uint64
}

// Announce registers a publisher under name. Fails if the name is taken.
func (d *Directory) Announce(name string, width, height int) (*Publication, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; ok {
		return nil, errors.Errorf("texture name %q already registered", name)
	}
	p := &Publication{Name: name, Width: width, Height: height, dir: d}
	d.entries[name] = p
	return p, nil
}

// Names lists live publications in lexical order
func (d *Directory) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Receivers returns how many receivers are bound to name
func (d *Directory) Receivers(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.receivers[name]
}

// Lookup finds a live publication
func (d *Directory) Lookup(name string) (*Publication, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.entries[name]
	return p, ok
}

// Write stores a top-down frame as the publication's latest contents
func (p *Publication) Write(frame FrameBuffer) error {
	if frame.Width != p.Width || frame.Height != p.Height {
		return errors.Wrapf(ErrSizeMismatch, "write %dx%d to %q (%dx%d)", frame.Width, frame.Height, p.Name, p.Width, p.Height)
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	p.store(frame.Clone(), false)
	return nil
}

func (p *Publication) store(frame FrameBuffer, bottomUp bool) {
	p.dir.mu.Lock()
	defer p.dir.mu.Unlock()
	p.frame = frame
	p.bottomUp = bottomUp
	p.seq++
}

// Latest returns the stored pixels as written, whether they are bottom-up,
// and the write sequence number (0 when nothing was written)
func (p *Publication) Latest() (FrameBuffer, bool, uint64) {
	p.dir.mu.Lock()
	defer p.dir.mu.Unlock()
	return p.frame, p.bottomUp, p.seq
}

// Withdraw removes the publication from its directory
func (p *Publication) Withdraw() {
	p.dir.mu.Lock()
	defer p.dir.mu.Unlock()
	if p.dir.entries[p.Name] == p {
		delete(p.dir.entries, p.Name)
	}
}

func (p *Publication) live() bool {
	p.dir.mu.Lock()
	defer p.dir.mu.Unlock()
	return p.dir.entries[p.Name] == p
}

// Acquire binds a receiver to a named publication
func (d *Directory) Acquire(name string, width, height int) (TextureSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.entries[name]
	if !ok {
		return nil, ErrSourceUnavailable
	}
	if p.Width != width || p.Height != height {
		return nil, errors.Wrapf(ErrSizeMismatch, "%q is %dx%d, want %dx%d", name, p.Width, p.Height, width, height)
	}
	d.receivers[name]++
	return &directorySource{pub: p}, nil
}

// Publish registers an outbound sink that other receivers can bind to
func (d *Directory) Publish(name string, width, height int) (TextureSink, error) {
	p, err := d.Announce(name, width, height)
	if err != nil {
		return nil, err
	}
	return &directorySink{pub: p}, nil
}

type directorySource struct {
	pub      *Publication
	lastSeq  uint64
	released bool
}

func (s *directorySource) Name() string { return s.pub.Name }

func (s *directorySource) Receive(tex *Texture) error {
	if s.released {
		return ErrTextureReleased
	}
	if !s.pub.live() {
		return ErrSourceUnavailable
	}
	frame, bottomUp, seq := s.pub.Latest()
	if seq == 0 || seq == s.lastSeq {
		return ErrNoFrame
	}
	if bottomUp {
		frame = frame.FlipVertical()
	}
	if err := tex.receive(frame); err != nil {
		return err
	}
	s.lastSeq = seq
	return nil
}

func (s *directorySource) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	d := s.pub.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receivers[s.pub.Name]--; d.receivers[s.pub.Name] <= 0 {
		delete(d.receivers, s.pub.Name)
	}
	return nil
}

type directorySink struct {
	pub      *Publication
	released bool
}

func (s *directorySink) Name() string { return s.pub.Name }

// Send stores the texture contents untouched; flip tags them bottom-up so
// receivers restore top-down order on their side
func (s *directorySink) Send(tex *Texture, flip bool) error {
	if s.released {
		return ErrTextureReleased
	}
	if tex.Width != s.pub.Width || tex.Height != s.pub.Height {
		return ErrSizeMismatch
	}
	s.pub.store(tex.Snapshot(), flip)
	return nil
}

func (s *directorySink) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	s.pub.Withdraw()
	return nil
}
