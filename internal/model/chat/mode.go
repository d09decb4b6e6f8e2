package chat

import "fmt"

// Mode selects how a turn is handled.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeCode
	ModeResearch
	ModeThinking
	ModeImageGen
)

var modeNames = map[Mode]string{
	ModeNormal:   "normal",
	ModeSearch:   "search",
	ModeCode:     "code",
	ModeResearch: "research",
	ModeThinking: "thinking",
	ModeImageGen: "image-gen",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode 空字符串视为 normal。
func ParseMode(raw string) (Mode, error) {
	if raw == "" {
		return ModeNormal, nil
	}
	for mode, name := range modeNames {
		if name == raw {
			return mode, nil
		}
	}
	return ModeNormal, fmt.Errorf("unknown mode %q", raw)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TurnRequest is the value composed at send time. It is never persisted.
type TurnRequest struct {
	Text        string
	Attachments []*Attachment
	Mode        Mode
	OCR         bool
}
