package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelstrike/netcore/internal/ring"
)

// DefaultRecorderFrames keeps roughly two minutes of a 30 Hz match.
const DefaultRecorderFrames = 3600

// TickFrame stores the encoded world update of one tick.
type TickFrame struct {
	Tick       uint32
	CapturedAt time.Time
	Payload    []byte
}

type bufferedEvent struct {
	tick       uint32
	kind       string
	payload    json.RawMessage
	capturedAt time.Time
}

// Recorder keeps the most recent frames and events in memory until an
// operator asks for a dump with Roll. It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	header      Header
	frames      *ring.Ring[TickFrame]
	events      []bufferedEvent
	bytes       int64
	evicted     uint64
	dumps       int64
	lastDump    time.Time
	lastDumpURI string
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	BufferedFrames int
	BufferedEvents int
	BufferedBytes  int64
	Evicted        uint64
	Dumps          int64
	LastDumpURI    string
	LastDumpTime   time.Time
}

// NewRecorder constructs a recorder that dumps bundles into dir. Capacity
// bounds the buffered frames; older frames and their events are evicted.
func NewRecorder(dir string, header Header, capacity int, clock func() time.Time) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("demo directory must be provided")
	}
	if header.TickRate <= 0 {
		return nil, fmt.Errorf("demo tick rate must be positive")
	}
	if capacity <= 0 {
		capacity = DefaultRecorderFrames
	}
	if clock == nil {
		clock = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, now: clock, header: header, frames: ring.New[TickFrame](capacity)}, nil
}

// AppendFrame buffers the encoded world update for tick.
func (r *Recorder) AppendFrame(tick uint32, payload []byte) error {
	if r == nil || len(payload) == 0 {
		return nil
	}
	clone := append([]byte(nil), payload...)
	captured := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes += int64(len(clone))
	old, evicted := r.frames.PushBack(TickFrame{Tick: tick, CapturedAt: captured, Payload: clone})
	if evicted {
		//1.- Drop events that happened before the oldest surviving frame.
		r.bytes -= int64(len(old.Payload))
		r.evicted++
		if oldest, ok := r.frames.Front(); ok {
			keep := r.events[:0]
			for _, ev := range r.events {
				if ev.tick >= oldest.Tick {
					keep = append(keep, ev)
				}
			}
			r.events = keep
		}
	}
	return nil
}

// AppendEvent buffers a session event. Payload is marshalled as JSON.
func (r *Recorder) AppendEvent(tick uint32, kind string, payload any) error {
	if r == nil {
		return nil
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	captured := r.now().UTC()
	r.mu.Lock()
	r.events = append(r.events, bufferedEvent{tick: tick, kind: kind, payload: raw, capturedAt: captured})
	r.mu.Unlock()
	return nil
}

// Roll writes the buffered frames and events to a new bundle and clears the
// buffer. An empty matchID gets a generated one. It returns the bundle path.
func (r *Recorder) Roll(matchID string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	//1.- Bail out when nothing has been recorded yet.
	if r.frames.Empty() {
		return "", fmt.Errorf("no demo frames buffered")
	}
	if matchID == "" {
		matchID = uuid.NewString()
	}
	header := r.header
	header.MatchID = matchID
	writer, _, err := NewWriter(r.dir, header, r.now)
	if err != nil {
		return "", err
	}

	//2.- Persist with the original capture times.
	for _, ev := range r.events {
		if err := writer.appendEventAt(ev.tick, ev.kind, ev.payload, ev.capturedAt); err != nil {
			writer.Close()
			return "", err
		}
	}
	for _, frame := range r.frames.All() {
		if err := writer.appendFrameAt(frame.Tick, frame.Payload, frame.CapturedAt); err != nil {
			writer.Close()
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	//3.- Reset the buffer so recording continues from an empty window.
	r.frames.Clear()
	r.events = nil
	r.bytes = 0
	r.dumps++
	r.lastDump = r.now().UTC()
	r.lastDumpURI = writer.Directory()
	return writer.Directory(), nil
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		BufferedFrames: r.frames.Len(),
		BufferedEvents: len(r.events),
		BufferedBytes:  r.bytes,
		Evicted:        r.evicted,
		Dumps:          r.dumps,
		LastDumpURI:    r.lastDumpURI,
		LastDumpTime:   r.lastDump,
	}
}
