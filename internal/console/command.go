package console

import "strings"

// Command is a parsed ":" prompt entry.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a prompt entry without its leading ':'.
func ParseCommand(input string) Command {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
}

// Known commands.
const (
	CmdQuit     = "quit"
	CmdLogout   = "logout"
	CmdLogin    = "login"
	CmdRefresh  = "refresh"
	CmdOpen     = "open"
	CmdContacts = "contacts"
)

var commandAliases = map[string]string{
	"q":  CmdQuit,
	"r":  CmdRefresh,
	"o":  CmdOpen,
	"qa": CmdQuit,
	"c":  CmdContacts,
}

// Canonical resolves aliases.
func (c Command) Canonical() string {
	if full, ok := commandAliases[c.Name]; ok {
		return full
	}
	return c.Name
}
