package capture

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errFinalized = errors.New("capture file already finalized")

// Session captures packets from one Handle into one pcap file. A Session runs at most
// once: Stopped and Failed are terminal.
type Session struct {
	spec   Spec
	opener Opener
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stoppedAt time.Time
	handle    Handle

	// fileMu guards the file and its writers; closed flips exactly once.
	fileMu      sync.Mutex
	file        *os.File
	buf         *bufio.Writer
	writer      *pcapgo.Writer
	closed      bool
	finalizeErr error

	packets  atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// workerErr is written by the worker before done is closed.
	workerErr error
}

// NewSession prepares an idle session. Nothing is opened until Start.
func NewSession(spec Spec, opener Opener, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		spec:   spec,
		opener: opener,
		logger: logger.With("output_path", spec.OutputPath),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start opens the output file, opens the capture handle and launches the capture worker.
// Any failure is a CaptureStartError and leaves the session Failed with no file behind.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return types.NewError(types.CodeCaptureStart, "session already used (state "+s.state.String()+")", nil)
	}

	f, err := os.OpenFile(s.spec.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.state = StateFailed
		return types.NewError(types.CodeCaptureStart, "create output file", err)
	}

	h, err := s.opener.Open(s.spec)
	if err != nil {
		s.state = StateFailed
		s.discardFile(f)
		return types.NewError(types.CodeCaptureStart, "open interface "+s.spec.Interface, err)
	}

	snapLen := h.SnapLen()
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(uint32(snapLen), h.LinkType()); err != nil {
		h.Close()
		s.state = StateFailed
		s.discardFile(f)
		return types.NewError(types.CodeCaptureStart, "write pcap header", err)
	}

	s.file, s.buf, s.writer = f, buf, w
	s.handle = h
	s.state = StateRunning
	s.startedAt = time.Now()

	s.logger.Info("capture started",
		"interface", s.spec.Interface,
		"filter", s.spec.Filter,
		"link_type", h.LinkType().String(),
		"snap_len", snapLen,
	)

	go s.run()
	return nil
}

func (s *Session) discardFile(f *os.File) {
	if err := f.Close(); err != nil {
		s.logger.Debug("close discarded capture file failed", "error", err)
	}
	if err := os.Remove(s.spec.OutputPath); err != nil {
		s.logger.Debug("remove discarded capture file failed", "error", err)
	}
}

func (s *Session) run() {
	defer close(s.done)

	err := s.drain()
	if err != nil {
		s.logger.Error("capture worker failed", "error", err, "packets", s.packets.Load())
	}
	s.workerErr = err
	if ferr := s.finalize(); ferr != nil {
		s.logger.Error("capture file finalize failed", "error", ferr)
	}
}

// drain copies packets to the file until the stop channel closes. The stop channel is
// checked before every read and every read is bounded by the handle's poll interval,
// so a stop request is noticed even when no packet ever arrives.
func (s *Session) drain() error {
	for {
		select {
		case <-s.stopCh:
			return nil
		default:
		}

		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			select {
			case <-s.stopCh:
				// Handle closed underneath us during stop.
				return nil
			default:
			}
			return types.NewError(types.CodeCaptureWorker, "read packet", err)
		}

		if err := s.writePacket(ci, data); err != nil {
			if errors.Is(err, errFinalized) {
				return nil
			}
			return types.NewError(types.CodeCaptureWorker, "write packet", err)
		}
	}
}

func (s *Session) writePacket(ci gopacket.CaptureInfo, data []byte) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.closed {
		return errFinalized
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now()
	}
	ci.CaptureLength = len(data)
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if err := s.writer.WritePacket(ci, data); err != nil {
		return err
	}
	s.packets.Add(1)
	return nil
}

// finalize flushes and closes the file. Only the first call does any work; later calls
// return the first result.
func (s *Session) finalize() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.closed {
		return s.finalizeErr
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	s.finalizeErr = errors.Join(s.buf.Flush(), s.file.Close())
	return s.finalizeErr
}

// Stop signals the worker and waits up to timeout for it to exit. On timeout the
// session is Failed with a CaptureStopTimeout; everything written so far is flushed
// and kept.
func (s *Session) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.state != StateRunning {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("capture stop: session is %s", st)
	}
	s.state = StateStopping
	s.mu.Unlock()

	requested := time.Now()
	s.stopOnce.Do(func() { close(s.stopCh) })

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		s.logStats()
		s.handle.Close()
		ferr := s.finalize()

		var err error
		switch {
		case s.workerErr != nil:
			err = s.workerErr
		case ferr != nil:
			err = types.NewError(types.CodeCaptureWorker, "finalize capture file", ferr)
		}
		s.finish(err, requested)
		return err

	case <-timer.C:
		// The worker may be wedged inside a read that holds the handle's own lock,
		// so closing it must not block this path.
		h := s.handle
		go h.Close()
		if ferr := s.finalize(); ferr != nil {
			s.logger.Error("capture file finalize failed", "error", ferr)
		}
		err := types.NewError(types.CodeCaptureStopTimeout, fmt.Sprintf("capture did not stop within %s", timeout), nil)
		s.finish(err, requested)
		return err
	}
}

func (s *Session) finish(err error, requested time.Time) {
	s.mu.Lock()
	s.stoppedAt = time.Now()
	if err != nil {
		s.state = StateFailed
	} else {
		s.state = StateStopped
	}
	state := s.state
	s.mu.Unlock()

	s.logger.Info("capture stopped",
		"state", state.String(),
		"packets", s.packets.Load(),
		"stop_latency_ms", time.Since(requested).Milliseconds(),
		"error", err,
	)
}

func (s *Session) logStats() {
	sr, ok := s.handle.(StatsReporter)
	if !ok {
		return
	}
	st, err := sr.Stats()
	if err != nil {
		s.logger.Debug("capture stats unavailable", "error", err)
		return
	}
	s.logger.Info("capture stats",
		"received", st.PacketsReceived,
		"dropped", st.PacketsDropped,
		"if_dropped", st.PacketsIfDropped,
	)
}

// PacketCount returns the number of packets written so far.
func (s *Session) PacketCount() int64 { return s.packets.Load() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Spec() Spec { return s.spec }

// StartedAt and StoppedAt are zero until the matching transition happened.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) StoppedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt
}
