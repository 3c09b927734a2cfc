// Package session implements the per-execution processing session: an
// accumulator of logs, call snapshots, and file artifacts that a job
// attempt flushes once, at the end, to the durable audit sink.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/scholarrelay/inkgate/internal/audit"
)

// Origins of a submission.
const (
	OriginAPI   = "api"
	OriginEmail = "email"
)

var ErrAlreadyFlushed = errors.New("session already flushed")

// LogLevel tags a session log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one timestamped line in the session log.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Snapshot captures one side of the external analysis call.
type Snapshot struct {
	CapturedAt time.Time       `json:"captured_at"`
	Body       json.RawMessage `json:"body"`
}

// File describes one input artifact. Path points at the staged copy on
// disk; its bytes are hashed and included in the flush batch.
type File struct {
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	Provenance   string `json:"provenance"`
	Path         string `json:"-"`
	SHA256       string `json:"sha256,omitempty"`
}

// Session accumulates everything one job execution produces. A single
// in-flight execution owns its session exclusively, so no locking.
type Session struct {
	ownerID string
	id      string

	origin   string
	logs     []LogEntry
	request  *Snapshot
	response *Snapshot
	files    []File
	report   json.RawMessage

	start    time.Time
	end      time.Time
	duration time.Duration
	flushed  bool
}

// New creates a session for the given owner. An empty id generates a fresh
// token, which doubles as the job id of the work it accompanies.
func New(ownerID, id string) *Session {
	if id == "" {
		id = NewToken()
	}
	return &Session{
		ownerID: ownerID,
		id:      id,
		start:   time.Now().UTC(),
	}
}

// NewToken returns a 32-character hex token.
func NewToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (s *Session) ID() string      { return s.id }
func (s *Session) OwnerID() string { return s.ownerID }

// Duration is the wall-clock length of the execution. It is computed once
// at Flush and cached; before Flush it reports zero.
func (s *Session) Duration() time.Duration { return s.duration }

// AddLog appends a timestamped entry. It never fails.
func (s *Session) AddLog(message string, level LogLevel) {
	s.logs = append(s.logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
}

func (s *Session) SetOrigin(origin string) { s.origin = origin }

// SetRequest snapshots the outbound analysis request. v must be JSON
// serializable; anything else is recorded as its string form.
func (s *Session) SetRequest(v any)  { s.request = snapshot(v) }
func (s *Session) SetResponse(v any) { s.response = snapshot(v) }

func snapshot(v any) *Snapshot {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(fmt.Sprint(v))
	}
	return &Snapshot{CapturedAt: time.Now().UTC(), Body: body}
}

func (s *Session) AddFile(f File) { s.files = append(s.files, f) }

// SetReport records the structured analysis result for this execution.
func (s *Session) SetReport(report json.RawMessage) { s.report = report }

// metadata is the session.json blob layout.
type metadata struct {
	SessionID  string          `json:"session_id"`
	OwnerID    string          `json:"owner_id"`
	Origin     string          `json:"origin,omitempty"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	DurationMS int64           `json:"duration_ms"`
	Files      []File          `json:"files,omitempty"`
	Request    *Snapshot       `json:"request,omitempty"`
	Response   *Snapshot       `json:"response,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// Flush serializes the accumulated state and writes it to the sink as one
// batch, computing per-file content hashes along the way. It must be
// called exactly once per execution; a second call returns
// ErrAlreadyFlushed without touching the sink.
func (s *Session) Flush(ctx context.Context, sink audit.Sink) (string, error) {
	if s.flushed {
		return s.id, ErrAlreadyFlushed
	}
	s.flushed = true
	s.end = time.Now().UTC()
	s.duration = s.end.Sub(s.start)

	var blobs []audit.Blob

	for i := range s.files {
		f := &s.files[i]
		if f.Path == "" {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			// A missing artifact is recorded in the log rather than
			// aborting the whole batch.
			s.AddLog(fmt.Sprintf("file %s unreadable at flush: %v", f.OriginalName, err), LevelWarn)
			continue
		}
		sum := sha256.Sum256(data)
		f.SHA256 = hex.EncodeToString(sum[:])
		blobs = append(blobs, audit.Blob{
			Name:        "files/" + f.OriginalName,
			ContentType: f.MimeType,
			Data:        data,
			SHA256:      f.SHA256,
		})
	}

	meta := metadata{
		SessionID:  s.id,
		OwnerID:    s.ownerID,
		Origin:     s.origin,
		StartTime:  s.start,
		EndTime:    s.end,
		DurationMS: s.duration.Milliseconds(),
		Files:      s.files,
		Request:    s.request,
		Response:   s.response,
		Report:     s.report,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return s.id, fmt.Errorf("marshal session metadata: %w", err)
	}

	blobs = append(blobs,
		audit.Blob{Name: "session.json", ContentType: "application/json", Data: metaJSON},
		audit.Blob{Name: "session.log", ContentType: "text/plain", Data: s.renderLog()},
	)

	if err := sink.PutBatch(ctx, s.ownerID, s.id, blobs); err != nil {
		return s.id, fmt.Errorf("flush session %s: %w", s.id, err)
	}
	return s.id, nil
}

func (s *Session) renderLog() []byte {
	var buf []byte
	for _, e := range s.logs {
		line := fmt.Sprintf("%s [%s] %s\n",
			e.Timestamp.Format(time.RFC3339Nano), e.Level, e.Message)
		buf = append(buf, line...)
	}
	return buf
}
