package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/state"
)

// EntryFrame is the Type of timeline entries holding a world update.
const EntryFrame = "frame"

// TimelineEntry is one frame or event of a demo.
type TimelineEntry struct {
	Tick       uint32
	CapturedAt time.Time
	Type       string
	Payload    []byte
}

// Bundle is a decoded demo directory.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	entries  []TimelineEntry
}

// ReadBundle decodes the demo bundle in dir.
func ReadBundle(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("demo path must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	header, err := ReadHeader(filepath.Join(dir, headerName))
	if err != nil {
		return nil, err
	}

	frames, err := readFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	events, err := readEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	//1.- Frames precede the events recorded on the same tick.
	entries := append(frames, events...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Tick < entries[j].Tick })
	return &Bundle{Dir: dir, Manifest: manifest, Header: header, entries: entries}, nil
}

func readFrames(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var entries []TimelineEntry
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, err
		}
		size := binary.LittleEndian.Uint32(header[12:16])
		if size > protocol.MaxPayloadBytes+2 {
			return nil, protocol.ErrPayloadTooLarge
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, err
		}
		entries = append(entries, TimelineEntry{
			Tick:       binary.LittleEndian.Uint32(header[0:4]),
			CapturedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[4:12]))).UTC(),
			Type:       EntryFrame,
			Payload:    payload,
		})
	}
}

func readEvents(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []TimelineEntry
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var record eventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Tick:       record.Tick,
			CapturedAt: captured,
			Type:       record.Type,
			Payload:    append([]byte(nil), record.Payload...),
		})
	}
	return entries, scanner.Err()
}

// Replay iterates over the timeline in tick order.
func (b *Bundle) Replay(apply func(TimelineEntry) error) error {
	if b == nil {
		return fmt.Errorf("bundle not loaded")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range b.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns a copy of the timeline.
func (b *Bundle) Entries() []TimelineEntry {
	out := make([]TimelineEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Snapshots decodes every frame with codec.
func (b *Bundle) Snapshots(codec *protocol.Codec) ([]state.Snapshot, error) {
	var out []state.Snapshot
	err := b.Replay(func(entry TimelineEntry) error {
		if entry.Type != EntryFrame {
			return nil
		}
		pkt, err := codec.Decode(entry.Payload)
		if err != nil {
			return fmt.Errorf("tick %d: %w", entry.Tick, err)
		}
		update, ok := pkt.(*protocol.WorldUpdate)
		if !ok {
			return fmt.Errorf("tick %d: unexpected %s frame", entry.Tick, pkt.Kind())
		}
		out = append(out, update.Snapshot)
		return nil
	})
	return out, err
}
