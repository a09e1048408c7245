// Package console turns raw terminal input into client commands.
package console

import "fmt"

// Command is one keyboard command.
type Command int

const (
	CmdToggleFocus    Command = iota + 1 // f
	CmdTogglePresence                    // p
	CmdStartLinking                      // s
	CmdStopLinking                       // x
	CmdUnlink                            // u
	CmdQuit                              // q, Ctrl-C, or ~. at line start
)

func (c Command) String() string {
	switch c {
	case CmdToggleFocus:
		return "toggle-focus"
	case CmdTogglePresence:
		return "toggle-presence"
	case CmdStartLinking:
		return "start-linking"
	case CmdStopLinking:
		return "stop-linking"
	case CmdUnlink:
		return "unlink"
	case CmdQuit:
		return "quit"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

const ctrlC = 0x03

// Help is the key summary printed at startup.
const Help = "keys: f focus, p presence, s start, x stop, u unlink, q quit"

type inputState int

const (
	stNone         inputState = iota // mid-line
	stAfterNewline                   // saw \r or \n (or start)
	stAfterTilde                     // saw ~ at start of line
)

// Processor maps keys to commands. It also honours the ~. escape so a
// terminal user used to ssh-style sessions can leave the same way.
type Processor struct {
	state inputState
}

func NewProcessor() *Processor {
	return &Processor{state: stAfterNewline}
}

// Process appends the commands found in input to dst. Processing stops at
// CmdQuit; later input is discarded.
func (p *Processor) Process(input []byte, dst []Command) []Command {
	for _, b := range input {
		if p.state == stAfterTilde {
			if b == '.' {
				return append(dst, CmdQuit)
			}
			p.state = stNone
		}

		switch b {
		case '\r', '\n':
			p.state = stAfterNewline
			continue
		case '~':
			if p.state == stAfterNewline {
				p.state = stAfterTilde
				continue
			}
		case ctrlC:
			return append(dst, CmdQuit)
		}
		p.state = stNone

		if cmd, ok := keyCommand(b); ok {
			dst = append(dst, cmd)
			if cmd == CmdQuit {
				return dst
			}
		}
	}
	return dst
}

// Reset returns the processor to its start-of-line state.
func (p *Processor) Reset() {
	p.state = stAfterNewline
}

func keyCommand(b byte) (Command, bool) {
	switch b {
	case 'f', 'F':
		return CmdToggleFocus, true
	case 'p', 'P':
		return CmdTogglePresence, true
	case 's', 'S':
		return CmdStartLinking, true
	case 'x', 'X':
		return CmdStopLinking, true
	case 'u', 'U':
		return CmdUnlink, true
	case 'q', 'Q':
		return CmdQuit, true
	}
	return 0, false
}
