// Package server defines the line protocol spoken between chat clients and
// the server: control replies, handshake parsing and delivery formats.
package server

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Server to client control lines.
const (
	PromptLine      = "LOGIN_REGISTER"
	ReplyExists     = "EXISTS"
	ReplyRegistered = "REGISTERED"
	ReplyLoggedIn   = "LOGGEDIN"
	ReplyInvalid    = "INVALID"
)

// Handshake verbs.
const (
	VerbLogin    = "login"
	VerbRegister = "register"
)

const directPrefix = "/msg"

// credentials is a parsed handshake line.
type credentials struct {
	verb     string
	username string
	secret   string
}

// parseCredentials splits "verb:username:secret" on the first two colons,
// so the secret may itself contain colons.
func parseCredentials(line string) (credentials, bool) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return credentials{}, false
	}

	c := credentials{verb: parts[0], username: parts[1], secret: parts[2]}
	if c.verb != VerbLogin && c.verb != VerbRegister {
		return credentials{}, false
	}
	if !validUsername(c.username) || c.secret == "" {
		return credentials{}, false
	}
	return c, true
}

// validUsername rejects names that could not be addressed with /msg.
func validUsername(name string) bool {
	return name != "" && strings.IndexFunc(name, unicode.IsSpace) < 0
}

// isDirect reports whether line uses the /msg command.
func isDirect(line string) bool {
	rest, found := strings.CutPrefix(line, directPrefix)
	if !found {
		return false
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return rest == "" || unicode.IsSpace(r)
}

// parseDirect splits "/msg <target> <text>" on runs of whitespace. text is
// everything after the separator following target, inner spacing intact.
func parseDirect(line string) (target, text string, ok bool) {
	if !isDirect(line) {
		return "", "", false
	}
	rest := strings.TrimLeftFunc(line[len(directPrefix):], unicode.IsSpace)
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end <= 0 {
		return "", "", false
	}
	target = rest[:end]
	text = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
	if text == "" {
		return "", "", false
	}
	return target, text, true
}

func joinNotice(username string) string { return username + " joined." }

func leaveNotice(username string) string { return username + " left." }

func chatLine(sender, text string) string { return sender + ": " + text }

func privateLine(sender, text string) string { return sender + " (private): " + text }

func notFoundLine(target string) string { return "User not found: " + target }
