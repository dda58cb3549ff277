package ftpgate

import "strings"

// dataVerbs lists the commands whose reply is delivered over a data channel.
var dataVerbs = map[string]bool{
	"LIST": true,
	"NLST": true,
	"MLSD": true,
	"RETR": true,
	"STOR": true,
	"STOU": true,
	"APPE": true,
}

// Command is a single control-channel command. RequiresDataChannel is set
// from the verb when the command is built and decides whether the client
// must open a data connection around it.
type Command struct {
	Verb                string
	Args                []string
	RequiresDataChannel bool
}

// NewCommand builds a Command. The verb is upper-cased.
func NewCommand(verb string, args ...string) Command {
	verb = strings.ToUpper(verb)
	return Command{
		Verb:                verb,
		Args:                args,
		RequiresDataChannel: dataVerbs[verb],
	}
}

// String returns the command as it goes on the wire, without CRLF.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Verb
	}
	return c.Verb + " " + strings.Join(c.Args, " ")
}

// redacted is String with the PASS argument masked, for logs and errors.
func (c Command) redacted() string {
	if c.Verb == "PASS" {
		return "PASS ***"
	}
	return c.String()
}
