package batch

import (
	"fmt"
	"strings"

	"voicestudio/pkg/dsp"
)

type Status int

const (
	StatusPending Status = iota
	StatusGenerated
	StatusGenerationFailed
	StatusConverted
	StatusConversionFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusGenerated:
		return "generated"
	case StatusGenerationFailed:
		return "generation_failed"
	case StatusConverted:
		return "converted"
	case StatusConversionFailed:
		return "conversion_failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusPending, StatusGenerated, StatusGenerationFailed, StatusConverted, StatusConversionFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown segment status %q", text)
}

// Segment is one line of the script with its own voice and effect settings.
// Index is 1-based and names the segment's artifacts.
type Segment struct {
	Index  int        `json:"index"`
	Text   string     `json:"text"`
	Voice  string     `json:"voice"`
	Preset string     `json:"preset,omitempty"`
	Config dsp.Config `json:"config"`
	Status Status     `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// SplitText turns a block of text into segment texts, one per non-empty line.
func SplitText(block string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Update carries the fields to change on a segment; nil fields are kept.
type Update struct {
	Text   *string     `json:"text,omitempty"`
	Voice  *string     `json:"voice,omitempty"`
	Config *dsp.Config `json:"config,omitempty"`
}
