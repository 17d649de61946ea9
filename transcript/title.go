package transcript

import (
	"bufio"
	"os"

	"github.com/tidwall/gjson"
)

const (
	// TitleLimit is the maximum title length in runes, ellipsis included.
	TitleLimit = 50

	titleScanLines = 50
)

// TruncateTitle shortens s to at most limit runes, ending in "..." when
// anything was cut.
func TruncateTitle(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// ExtractTitle returns the first user text of the wire log at path, looking
// only at the first 50 lines. ok is false when none was found.
func ExtractTitle(path string) (title string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for n := 0; n < titleScanLines && sc.Scan(); n++ {
		line := sc.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}
		msg := gjson.GetBytes(line, "message")
		if msg.Get("type").String() != RecordTurnBegin {
			continue
		}
		if text := firstText(msg.Get("payload.user_input")); text != "" {
			return TruncateTitle(text, TitleLimit), true
		}
	}
	return "", false
}
