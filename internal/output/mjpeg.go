package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
)

// MJPEGOutput streams overlay frames as Motion JPEG over HTTP, so the mirror
// can be watched in a browser tab on another screen.
type MJPEGOutput struct {
	config Config

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	frames    chan *image.RGBA
	done      chan struct{}
	wg        sync.WaitGroup

	// Latest encoded frame
	frameMu    sync.RWMutex
	latest     []byte
	lastUpdate time.Time
	lastAccept time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	encoded atomic.Uint64
	dropped atomic.Uint64
}

// NewMJPEGOutput creates a stopped MJPEG output.
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start launches the encoder. HTTP handlers are mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frames = make(chan *image.RGBA, 1)
	m.done = make(chan struct{})
	m.encoded.Store(0)
	m.dropped.Store(0)

	m.wg.Add(1)
	go m.encodeLoop(m.frames, m.done)

	logger.WithComponent("mjpeg").Info().
		Int("quality", m.config.quality()).
		Int("max_fps", m.config.MaxFPS).
		Msg("MJPEG output started")
	return nil
}

// Stop halts the encoder and ends every client stream.
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", m.encoded.Load()).
		Uint64("dropped", m.dropped.Load()).
		Msg("MJPEG output stopped")
	return nil
}

// Present queues a copy of frame for encoding. It never blocks: when the
// encoder is still busy with the previous frame, or nobody is watching, the
// frame is dropped.
func (m *MJPEGOutput) Present(frame *image.RGBA) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return ErrNotRunning
	}
	if m.ClientCount() == 0 || !m.accept(time.Now()) {
		return nil
	}

	clone := &image.RGBA{
		Pix:    append([]byte(nil), frame.Pix...),
		Stride: frame.Stride,
		Rect:   frame.Rect,
	}
	select {
	case m.frames <- clone:
	default:
		m.dropped.Add(1)
	}
	return nil
}

// accept applies the MaxFPS cap.
func (m *MJPEGOutput) accept(now time.Time) bool {
	if m.config.MaxFPS <= 0 {
		return true
	}
	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	if now.Sub(m.lastAccept) < time.Second/time.Duration(m.config.MaxFPS) {
		m.dropped.Add(1)
		return false
	}
	m.lastAccept = now
	return true
}

func (m *MJPEGOutput) encodeLoop(frames <-chan *image.RGBA, done <-chan struct{}) {
	defer m.wg.Done()
	log := logger.WithComponent("mjpeg")
	opts := &jpeg.Options{Quality: m.config.quality()}

	for {
		select {
		case <-done:
			return
		case frame := <-frames:
			buf := new(bytes.Buffer)
			if err := jpeg.Encode(buf, frame, opts); err != nil {
				log.Error().Err(err).Msg("Failed to encode JPEG")
				continue
			}
			m.publish(buf.Bytes())
		}
	}
}

func (m *MJPEGOutput) publish(data []byte) {
	m.frameMu.Lock()
	m.latest = data
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()
	m.encoded.Add(1)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
}

// Name returns the output type name.
func (m *MJPEGOutput) Name() string { return "mjpeg" }

// IsRunning reports whether the encoder is active.
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients.
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats is a snapshot of the output counters.
type Stats struct {
	Running    bool      `json:"running"`
	Quality    int       `json:"quality"`
	Frames     uint64    `json:"frames"`
	Dropped    uint64    `json:"dropped"`
	Clients    int       `json:"clients"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
}

// Stats returns the current counters.
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	running, startTime := m.running, m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	st := Stats{
		Running:    running,
		Quality:    m.config.quality(),
		Frames:     m.encoded.Load(),
		Dropped:    m.dropped.Load(),
		Clients:    m.ClientCount(),
		LastUpdate: lastUpdate,
	}
	if running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			st.FPS = float64(st.Frames) / elapsed
		}
	}
	return st
}

// StreamHandler serves the multipart MJPEG stream. Mount it at /stream.
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "preview stream is not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", clientCount).Msg("Stream client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			remaining := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", remaining).Msg("Stream client disconnected")
		}()

		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := fmt.Fprint(w, "\r\n"); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}

// SnapshotHandler serves the latest encoded frame as a single JPEG.
func (m *MJPEGOutput) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.frameMu.RLock()
		data := m.latest
		m.frameMu.RUnlock()
		if data == nil {
			http.Error(w, "no frame yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// StatsHandler serves Stats as JSON.
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}

// ViewerHandler serves a bare page that shows the stream full-window.
func (m *MJPEGOutput) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>FocusMirror</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .status {
            position: fixed;
            bottom: 16px;
            left: 16px;
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border-radius: 20px;
            font-family: system-ui, -apple-system, sans-serif;
            font-size: 13px;
            opacity: 0;
            transition: opacity 0.2s ease;
        }
        body:hover .status { opacity: 1; }
    </style>
</head>
<body>
    <img src="/stream" alt="FocusMirror preview">
    <div class="status" id="status">connecting</div>
    <script>
        function refresh() {
            fetch('/api/session')
                .then(r => r.json())
                .then(s => {
                    document.getElementById('status').textContent = s.active
                        ? 'mirroring @ ' + (s.frame_rate || 'max') + ' fps'
                        : 'no overlay';
                })
                .catch(() => {});
        }
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
