package protocol

import "time"

// TranscribeRequest carries raw PCM over the bus. Zero numeric fields take
// the HTTP defaults (16000 Hz, mono, 16-bit).
type TranscribeRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
	PCM        []byte `json:"pcm"`
}

type Segment struct {
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

// TranscribeReply answers a TranscribeRequest. Error is set instead of the
// transcript when the request failed; ClientError marks request faults.
type TranscribeReply struct {
	ID          string    `json:"id,omitempty"`
	Text        string    `json:"text"`
	Segments    []Segment `json:"segments"`
	Error       string    `json:"error,omitempty"`
	ClientError bool      `json:"client_error,omitempty"`
}

// TranscriptionEvent is published after every successful transcription.
type TranscriptionEvent struct {
	ID           string    `json:"id"`
	NodeID       string    `json:"node_id"`
	Source       string    `json:"source"`
	SampleRate   int       `json:"sample_rate"`
	Channels     int       `json:"channels"`
	BitDepth     int       `json:"bit_depth"`
	AudioSeconds float64   `json:"audio_seconds"`
	Text         string    `json:"text"`
	Segments     []Segment `json:"segments"`
	LatencyMS    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBitDepth   = 16

	QueueGroupTranscribe = "transcribe"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
