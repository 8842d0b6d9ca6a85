package protocol

import (
	"fmt"
	"strings"
)

// Version is the protocol marker carried by handshake and control lines.
const Version = "CHAT/1.0"

// BroadcastTerm is followed by every registered client. The matching
// identity "all" is reserved.
const (
	BroadcastTerm = "@all"
	ReservedName  = "all"
)

// Handshake result lines.
const (
	ReplyRegistered        = "200 Registration succesful"
	ReplyInvalid           = "400 Invalid registration"
	ReplyAlreadyRegistered = "401 Client already registered"
	ReplyForbiddenName     = "402 Forbidden user name"
)

// Line keywords.
const (
	KeywordRegister   = "REGISTER"
	KeywordDisconnect = "DISCONNECT"
	KeywordAttach     = "ATTACH"
	KeywordAttachment = "ATTACHMENT"
	FollowPrefix      = "Follow: "
	OriginPrefix      = "Origin: "
	LengthPrefix      = "Content-Length:"
)

// Chat commands, always the second token of an active line.
const (
	CmdList        = "!list"
	CmdExit        = "!exit"
	CmdFollowQuery = "!follow?"
	CmdFollow      = "!follow"
	CmdUnfollow    = "!unfollow"
	CmdAttach      = "!attach"
)

// MentionTerm is the follow term that addresses name directly.
func MentionTerm(name string) string {
	return "@" + name
}

// RegisterLine is the first handshake line sent by a client.
func RegisterLine(name string) string {
	return fmt.Sprintf("%s %s %s", KeywordRegister, name, Version)
}

// FollowLine is the optional second handshake line.
func FollowLine(terms []string) string {
	return FollowPrefix + strings.Join(terms, ",")
}

// DisconnectLine is sent by the server when it drops a client. Clients
// append their own name: see ClientDisconnectLine.
func DisconnectLine() string {
	return KeywordDisconnect + " " + Version
}

// ClientDisconnectLine is sent by a client leaving the chat.
func ClientDisconnectLine(name string) string {
	return fmt.Sprintf("%s %s %s", KeywordDisconnect, name, Version)
}

// AttachLine asks the uploader for the bytes of filename.
func AttachLine(filename string) string {
	return fmt.Sprintf("%s %s %s", KeywordAttach, filename, Version)
}

// AttachmentHeader is the three-line header announcing a relayed file.
func AttachmentHeader(filename, origin string, size int64) []string {
	return []string{
		fmt.Sprintf("%s %s %s", KeywordAttachment, filename, Version),
		OriginPrefix + origin,
		ContentLengthLine(size),
	}
}

// ContentLengthLine announces a body of size bytes; -1 means no body.
func ContentLengthLine(size int64) string {
	return fmt.Sprintf("%s %d", LengthPrefix, size)
}

// JoinList renders identities or terms the way !list and !follow? reply.
func JoinList(items []string) string {
	return strings.Join(items, ", ")
}

// ErrorLine formats an error reply sent over an active connection.
func ErrorLine(format string, args ...any) string {
	return "Error:  " + fmt.Sprintf(format, args...)
}
