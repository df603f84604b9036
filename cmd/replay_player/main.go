// Command replay_player inspects recorded demo bundles.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"voxelstrike/netcore/internal/protocol"
	"voxelstrike/netcore/internal/replay"
)

type timelineEntry struct {
	Tick       uint32          `json:"tick"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Bytes      int             `json:"bytes,omitempty"`
	Players    int             `json:"players,omitempty"`
	Event      json.RawMessage `json:"event,omitempty"`
}

func main() {
	path := flag.String("path", "", "demo bundle directory to play back")
	list := flag.String("list", "", "directory to catalog demo bundles from")
	compression := flag.String("compression", "snappy", "payload compressor the server used")
	flag.Parse()

	switch {
	case *list != "":
		entries, err := replay.List(*list)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		payload, err := replay.MarshalCatalog(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
	case *path != "":
		if err := play(*path, *compression); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
	default:
		fmt.Fprintln(os.Stderr, "path or list flag is required")
		os.Exit(1)
	}
}

func play(path, compression string) error {
	bundle, err := replay.ReadBundle(path)
	if err != nil {
		return err
	}
	compressor, err := protocol.CompressorByName(compression)
	if err != nil {
		return err
	}
	codec, err := protocol.NewCodec(compressor, protocol.DefaultCompressThreshold)
	if err != nil {
		return err
	}

	//1.- Decode frames into player counts and keep events verbatim.
	var timeline []timelineEntry
	err = bundle.Replay(func(entry replay.TimelineEntry) error {
		out := timelineEntry{Tick: entry.Tick, CapturedAt: entry.CapturedAt.Format("2006-01-02T15:04:05.000Z07:00"), Type: entry.Type}
		if entry.Type == replay.EntryFrame {
			pkt, err := codec.Decode(entry.Payload)
			if err != nil {
				return fmt.Errorf("tick %d: %w", entry.Tick, err)
			}
			out.Bytes = len(entry.Payload)
			if update, ok := pkt.(*protocol.WorldUpdate); ok {
				out.Players = len(update.Snapshot.Players)
			}
		} else {
			out.Event = json.RawMessage(entry.Payload)
		}
		timeline = append(timeline, out)
		return nil
	})
	if err != nil {
		return err
	}

	payload := struct {
		Header   replay.Header   `json:"header"`
		Manifest replay.Manifest `json:"manifest"`
		Timeline []timelineEntry `json:"timeline"`
	}{Header: bundle.Header, Manifest: bundle.Manifest, Timeline: timeline}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
