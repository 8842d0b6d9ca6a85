package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		kind     Kind
		term     string
		filename string
		terms    []string
	}{
		{name: "disconnect", line: "DISCONNECT bob CHAT/1.0", kind: KindDisconnect},
		{name: "bare disconnect", line: "DISCONNECT", kind: KindDisconnect},
		{name: "list", line: "@bob: !list", kind: KindList},
		{name: "exit", line: "@bob: !exit", kind: KindExit},
		{name: "follow query", line: "@bob: !follow?", kind: KindFollowQuery},
		{name: "follow", line: "@bob: !follow sports", kind: KindFollow, term: "sports"},
		{name: "unfollow", line: "@bob: !unfollow @all", kind: KindUnfollow, term: "@all"},
		{
			name: "attach with terms", line: "@bob: !attach report.pdf sports news",
			kind: KindAttach, filename: "report.pdf", terms: []string{"@bob:", "sports", "news"},
		},
		{
			name: "attach without terms", line: "@bob: !attach report.pdf",
			kind: KindAttach, filename: "report.pdf", terms: []string{"@bob:"},
		},
		{
			name: "list with extra token is a message", line: "@bob: !list please",
			kind: KindMessage, terms: []string{"@bob:", "!list", "please"},
		},
		{
			name: "follow without term is a message", line: "@bob: !follow",
			kind: KindMessage, terms: []string{"@bob:", "!follow"},
		},
		{
			name: "plain message", line: "@bob: breaking sports news!",
			kind: KindMessage, terms: []string{"@bob:", "breaking", "sports", "news!"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			cmd := ParseCommand(tt.line)
			req.Equal(tt.kind, cmd.Kind)
			req.Equal(tt.line, cmd.Line)
			req.Equal(tt.term, cmd.Term)
			req.Equal(tt.filename, cmd.Filename)
			if tt.terms != nil {
				req.Equal(tt.terms, cmd.Terms)
			}
		})
	}
}

func TestParseRegister(t *testing.T) {
	req := require.New(t)

	name, err := ParseRegister("REGISTER alice CHAT/1.0")
	req.NoError(err)
	req.Equal("alice", name)

	for _, bad := range []string{
		"",
		"REGISTER alice",
		"REGISTER alice CHAT/2.0",
		"register alice CHAT/1.0",
		"REGISTER alice bob CHAT/1.0",
	} {
		_, err := ParseRegister(bad)
		req.ErrorIs(err, ErrInvalidRegistration, "line=%q", bad)
	}
}

func TestParseFollow(t *testing.T) {
	req := require.New(t)

	terms, err := ParseFollow("Follow: sports,@bob, news,,")
	req.NoError(err)
	req.Equal([]string{"sports", "@bob", "news"}, terms)

	_, err = ParseFollow("Follows: sports")
	req.ErrorIs(err, ErrInvalidRegistration)
}

func TestParseContentLength(t *testing.T) {
	req := require.New(t)

	n, err := ParseContentLength("Content-Length: 1024")
	req.NoError(err)
	req.EqualValues(1024, n)

	n, err = ParseContentLength("Content-Length: -1")
	req.NoError(err)
	req.EqualValues(-1, n)

	for _, bad := range []string{"Content-Length:", "Content-Length: abc", "Content-Length: -2", "Length: 3", "Content-Length:  3"} {
		_, err := ParseContentLength(bad)
		req.ErrorIs(err, ErrInvalidHeader, "line=%q", bad)
	}
}

func TestStripPunctuation(t *testing.T) {
	req := require.New(t)
	req.Equal("foo", StripPunctuation("foo!"))
	req.Equal("@bob", StripPunctuation("@bob:"))
	req.Equal("foo", StripPunctuation("foo?!..."))
	req.Equal("f.o.o", StripPunctuation("f.o.o"))
	req.Equal("", StripPunctuation("!!!"))
}

func TestValidFilename(t *testing.T) {
	req := require.New(t)
	req.True(ValidFilename("report.pdf"))
	req.True(ValidFilename("a..b"))
	for _, bad := range []string{"", ".", "..", "../etc/passwd", "dir/file", `dir\file`, "nul\x00"} {
		req.False(ValidFilename(bad), "name=%q", bad)
	}
}

func TestLineBuilders(t *testing.T) {
	req := require.New(t)
	req.Equal("REGISTER alice CHAT/1.0", RegisterLine("alice"))
	req.Equal("Follow: a,b", FollowLine([]string{"a", "b"}))
	req.Equal("DISCONNECT CHAT/1.0", DisconnectLine())
	req.Equal("DISCONNECT alice CHAT/1.0", ClientDisconnectLine("alice"))
	req.Equal("ATTACH f.txt CHAT/1.0", AttachLine("f.txt"))
	req.Equal([]string{"ATTACHMENT f.txt CHAT/1.0", "Origin: alice", "Content-Length: 3"}, AttachmentHeader("f.txt", "alice", 3))
	req.Equal("Error:  Was not following x", ErrorLine("Was not following %s", "x"))
}
