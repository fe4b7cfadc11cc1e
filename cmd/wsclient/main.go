// wsclient is a hand-testing client for the recording WebSocket protocol.
// It starts a session, streams audio frames (from a file or synthetic
// silence), answers speaker mapping requests, and prints every server event.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8000/v1/ws/record", "recording endpoint")
	language := flag.String("language", "en", "session language")
	title := flag.String("title", "wsclient test", "session title")
	roster := flag.String("roster", "", "comma-delimited participant names")
	audioFile := flag.String("audio", "", "audio file streamed as binary frames (synthetic frames when empty)")
	frames := flag.Int("frames", 8, "number of synthetic frames when no audio file is given")
	frameSize := flag.Int("frame-size", 3200, "frame size in bytes")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between frames")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	log.Printf("Connected to %s", *addr)

	start := map[string]any{"type": "start", "language": *language, "title": *title}
	if *roster != "" {
		start["roster"] = *roster
	}
	sendJSON(ctx, conn, start)

	// Reader prints events and answers mapping requests with the first
	// suggested name.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev struct {
				Type           string   `json:"type"`
				Message        string   `json:"message"`
				Link           string   `json:"link"`
				Text           string   `json:"text"`
				SpeakerName    string   `json:"speakerName"`
				SpeakerTag     int      `json:"speakerTag"`
				SampleText     string   `json:"sampleText"`
				AvailableNames []string `json:"availableNames"`
				EntryCount     uint64   `json:"entryCount"`
			}
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("unparseable event: %s", data)
				continue
			}
			switch ev.Type {
			case "speaker_mapping_required":
				name := fmt.Sprintf("Speaker %d", ev.SpeakerTag)
				if len(ev.AvailableNames) > 0 {
					name = ev.AvailableNames[0]
				}
				log.Printf("mapping required for tag %d (%q), answering %q", ev.SpeakerTag, ev.SampleText, name)
				sendJSON(ctx, conn, map[string]any{
					"type":        "speaker_mapping",
					"speakerTag":  ev.SpeakerTag,
					"speakerName": name,
				})
			case "transcription_recorded":
				log.Printf("[%s] %s", ev.SpeakerName, ev.Text)
			case "completed":
				log.Printf("completed: %s (%d entries) %s", ev.Message, ev.EntryCount, ev.Link)
				return
			case "error":
				log.Printf("server error: %s", ev.Message)
			default:
				log.Printf("%s: %s", ev.Type, strings.TrimSpace(ev.Message))
			}
		}
	}()

	for i, frame := range loadFrames(*audioFile, *frames, *frameSize) {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			log.Fatalf("failed to send frame %d: %v", i, err)
		}
		time.Sleep(*interval)
	}

	sendJSON(ctx, conn, map[string]any{"type": "end"})
	<-done
}

func sendJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("failed to marshal message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Fatalf("failed to send message: %v", err)
	}
}

// loadFrames chunks the audio file, or fabricates zero-filled frames that
// still drive the mock recognition backend.
func loadFrames(path string, count, size int) [][]byte {
	if path == "" {
		frames := make([][]byte, count)
		for i := range frames {
			frames[i] = make([]byte, size)
		}
		return frames
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read audio file: %v", err)
	}
	var frames [][]byte
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, data[off:end])
	}
	return frames
}
