package protocol

import (
	"errors"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Punctuation is stripped from the end of message tokens before they are
// compared with follow terms. The set is fixed ASCII punctuation so
// matching does not depend on locale.
const Punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var (
	ErrInvalidRegistration = errors.New("protocol: invalid registration")
	ErrInvalidHeader       = errors.New("protocol: invalid attachment header")
)

// Kind identifies what an active-state line asks the server to do.
type Kind int

const (
	KindMessage Kind = iota
	KindDisconnect
	KindList
	KindExit
	KindFollowQuery
	KindFollow
	KindUnfollow
	KindAttach
)

func (k Kind) String() string {
	switch k {
	case KindDisconnect:
		return "disconnect"
	case KindList:
		return "list"
	case KindExit:
		return "exit"
	case KindFollowQuery:
		return "follow?"
	case KindFollow:
		return "follow"
	case KindUnfollow:
		return "unfollow"
	case KindAttach:
		return "attach"
	default:
		return "message"
	}
}

// Command is the parse result of one active-state line.
type Command struct {
	Kind Kind
	// Line is the raw line as received, without terminator.
	Line string
	// Words are the single-space separated tokens used for dispatch.
	Words []string
	// Term is the argument of !follow and !unfollow.
	Term string
	// Filename is the argument of !attach.
	Filename string
	// Terms are the tokens matched against subscriptions when the line is
	// routed: every token of a message, or the sender label plus the
	// trailing tokens of an !attach.
	Terms []string
}

// ParseCommand classifies an active-state line. The first token is the
// sender label and is ignored for dispatch; anything that is not a
// command is a message to route.
func ParseCommand(line string) Command {
	words := strings.Split(line, " ")
	cmd := Command{Kind: KindMessage, Line: line, Words: words}

	switch {
	case words[0] == KeywordDisconnect:
		cmd.Kind = KindDisconnect
	case len(words) == 2 && words[1] == CmdList:
		cmd.Kind = KindList
	case len(words) == 2 && words[1] == CmdExit:
		cmd.Kind = KindExit
	case len(words) == 2 && words[1] == CmdFollowQuery:
		cmd.Kind = KindFollowQuery
	case len(words) == 3 && words[1] == CmdFollow:
		cmd.Kind = KindFollow
		cmd.Term = words[2]
	case len(words) == 3 && words[1] == CmdUnfollow:
		cmd.Kind = KindUnfollow
		cmd.Term = words[2]
	case len(words) >= 3 && words[1] == CmdAttach:
		cmd.Kind = KindAttach
		cmd.Filename = words[2]
		cmd.Terms = lo.Compact(append([]string{words[0]}, words[3:]...))
	default:
		cmd.Terms = strings.Fields(line)
	}
	return cmd
}

// ParseRegister validates the first handshake line and returns the
// requested identity.
func ParseRegister(line string) (string, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 || parts[0] != KeywordRegister || parts[2] != Version {
		return "", ErrInvalidRegistration
	}
	return parts[1], nil
}

// ParseFollow parses the optional "Follow: a,b,c" handshake line. Blank
// entries are dropped.
func ParseFollow(line string) ([]string, error) {
	rest, ok := strings.CutPrefix(line, FollowPrefix)
	if !ok {
		return nil, ErrInvalidRegistration
	}
	terms := lo.Map(strings.Split(rest, ","), func(t string, _ int) string {
		return strings.TrimSpace(t)
	})
	return lo.Compact(terms), nil
}

// ParseContentLength parses a "Content-Length: n" line. The sentinel -1
// is returned as is; callers treat it as "no body follows".
func ParseContentLength(line string) (int64, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 2 || parts[0] != LengthPrefix {
		return 0, ErrInvalidHeader
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || n < -1 {
		return 0, ErrInvalidHeader
	}
	return n, nil
}

// StripPunctuation removes trailing characters of the Punctuation set.
func StripPunctuation(token string) string {
	return strings.TrimRight(token, Punctuation)
}

// ValidFilename reports whether name is a bare file name that can be
// written into a directory without escaping it.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
