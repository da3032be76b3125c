// ABOUTME: Inbound client command decoding
// ABOUTME: Maps text frames onto the closed set of transport commands
package protocol

import (
	"encoding/json"
	"strings"
)

// Command is one recognized inbound control command
type Command int

const (
	CommandUnknown Command = iota
	CommandPlay
	CommandPause
	CommandNextChapter
	CommandPrevChapter
	CommandNextVideo
)

var commandNames = map[string]Command{
	"play":         CommandPlay,
	"pause":        CommandPause,
	"next_chapter": CommandNextChapter,
	"prev_chapter": CommandPrevChapter,
	"next_video":   CommandNextVideo,
}

// String returns the wire name of the command
func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return "unknown"
}

// UnknownCommand reports an inbound frame that is not a recognized command
type UnknownCommand struct {
	Payload string
}

func (e *UnknownCommand) Error() string {
	return "Unknown data " + e.Payload
}

// commandFrame is the JSON form of a command: {"type": "play"}
type commandFrame struct {
	Type string `json:"type"`
}

// DecodeCommand decodes one inbound frame. Plain text ("pause") and a JSON
// object with a type field are both accepted. Anything else yields
// CommandUnknown and an *UnknownCommand error.
func DecodeCommand(data []byte) (Command, error) {
	text := strings.TrimSpace(string(data))

	name := text
	if strings.HasPrefix(text, "{") {
		var frame commandFrame
		if err := json.Unmarshal([]byte(text), &frame); err == nil {
			name = strings.TrimSpace(frame.Type)
		}
	}

	if cmd, ok := commandNames[strings.ToLower(name)]; ok {
		return cmd, nil
	}
	return CommandUnknown, &UnknownCommand{Payload: text}
}
