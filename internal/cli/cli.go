// Package cli parses parley's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRecord     Command = "record"
	CommandStop       Command = "stop"
	CommandCancel     Command = "cancel"
	CommandStatus     Command = "status"
	CommandDevices    Command = "devices"
	CommandDoctor     Command = "doctor"
	CommandTranscribe Command = "transcribe"
	CommandSummarize  Command = "summarize"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

type argPolicy int

const (
	argNone argPolicy = iota
	argRequired
	argOptional
)

var commandArgs = map[Command]argPolicy{
	CommandRecord:     argNone,
	CommandStop:       argNone,
	CommandCancel:     argNone,
	CommandStatus:     argNone,
	CommandDevices:    argNone,
	CommandDoctor:     argNone,
	CommandTranscribe: argRequired,
	CommandSummarize:  argOptional,
	CommandVersion:    argNone,
	CommandHelp:       argNone,
}

// Parsed is the result of a successful Parse.
type Parsed struct {
	Command    Command
	Arg        string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			policy, ok := commandArgs[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			rest := args[i+1:]
			switch {
			case policy == argRequired && len(rest) == 0:
				return Parsed{}, fmt.Errorf("command %q requires a file argument", arg)
			case policy == argNone && len(rest) > 0,
				policy != argNone && len(rest) > 1:
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			if len(rest) == 1 {
				if strings.HasPrefix(rest[0], "-") {
					return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
				}
				parsed.Arg = rest[0]
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [ARG]

Commands:
  record           Start recording, or stop and commit when already recording
  stop             Stop active recording and commit transcript
  cancel           Cancel active recording and discard transcript
  status           Print current state
  devices          List available input devices
  doctor           Run configuration and environment checks
  transcribe FILE  Upload one audio file and print its transcript
  summarize [FILE] Stream a summary of a transcript (default: latest saved)
  version          Print version information
  help             Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/parley/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
