// Package transcript rebuilds readable chat history from the append-only
// wire.jsonl logs written by the kimi CLI, and discovers those logs on disk.
package transcript

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/martinemde/steward/sessionstore"
)

// Record types of the wire log.
const (
	RecordTurnBegin   = "TurnBegin"
	RecordContentPart = "ContentPart"
	RecordToolCall    = "ToolCall"
	RecordStepEnd     = "StepEnd"
	RecordTurnEnd     = "TurnEnd"
)

// WireFile is the log file name inside a CLI session directory.
const WireFile = "wire.jsonl"

type reconstructor struct {
	now       int64
	messages  []sessionstore.Message
	assistant bool
	buf       strings.Builder
	stamp     int64
}

// Reconstruct replays wire records from r into user and assistant messages.
// Lines that are not valid records, or whose type is not recognized, are
// skipped; a read error ends the replay with what was gathered so far.
func Reconstruct(r io.Reader) []sessionstore.Message {
	rc := &reconstructor{now: time.Now().Unix()}
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			rc.apply(line)
		}
		if err != nil {
			break
		}
	}
	rc.flush()
	return rc.messages
}

// ReconstructFile replays the wire log at path. A missing file yields no
// messages.
func ReconstructFile(path string) ([]sessionstore.Message, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Reconstruct(f), nil
}

func (rc *reconstructor) apply(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return
	}
	rec := gjson.ParseBytes(line)
	msg := rec.Get("message")
	payload := msg.Get("payload")
	stamp := rc.timestamp(rec)

	switch msg.Get("type").String() {
	case RecordTurnBegin:
		rc.flush()
		if text := firstText(payload.Get("user_input")); text != "" {
			rc.messages = append(rc.messages, sessionstore.Message{Role: "user", Content: text, Timestamp: stamp})
		}
		rc.assistant = true
		rc.buf.Reset()
	case RecordContentPart:
		if !rc.assistant || payload.Get("type").String() != "text" {
			return
		}
		if rc.buf.Len() == 0 {
			rc.stamp = stamp
		}
		rc.buf.WriteString(payload.Get("text").String())
	case RecordToolCall:
	case RecordStepEnd, RecordTurnEnd:
		rc.flush()
	}
}

func (rc *reconstructor) flush() {
	if rc.assistant && rc.buf.Len() > 0 {
		rc.messages = append(rc.messages, sessionstore.Message{Role: "assistant", Content: rc.buf.String(), Timestamp: rc.stamp})
	}
	rc.buf.Reset()
}

// timestamp reads the record's unix timestamp, falling back to the replay
// start time.
func (rc *reconstructor) timestamp(rec gjson.Result) int64 {
	if ts := rec.Get("timestamp"); ts.Type == gjson.Number && ts.Float() > 0 {
		return int64(ts.Float())
	}
	return rc.now
}

// firstText returns the first non-empty text item of a user_input array.
func firstText(items gjson.Result) string {
	var text string
	items.ForEach(func(_, item gjson.Result) bool {
		if t := item.Get("text"); t.Type == gjson.String && t.String() != "" {
			text = t.String()
			return false
		}
		return true
	})
	return text
}
