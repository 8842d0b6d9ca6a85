// Package client implements a CHAT/1.0 client session: registration,
// sending messages and serving the relay's attachment requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

var (
	// ErrInvalidServerURL is returned for addresses not of the form
	// chat://host:port.
	ErrInvalidServerURL = errors.New("invalid server url, expected chat://host:port")
	// ErrRegistrationRejected wraps the reply of a refused registration.
	ErrRegistrationRejected = errors.New("registration rejected")
	// ErrInvalidAttachmentHeader is reported when an ATTACHMENT line is
	// not followed by Origin and Content-Length lines.
	ErrInvalidAttachmentHeader = errors.New("invalid attachment header")
)

// Attachment describes a file received from the relay.
type Attachment struct {
	Filename string
	Origin   string
	Path     string
	Size     int64
	MIME     string
}

// Handler receives what the relay sends to a session. Methods are called
// from the goroutine running Session.Run.
type Handler interface {
	// Message is called for every plain line, including replies.
	Message(line string)
	// Uploaded is called after answering an ATTACH request. Size is -1
	// when the file could not be opened.
	Uploaded(filename string, size int64)
	// Attachment is called once a file has been written to disk.
	Attachment(a Attachment)
	// AttachmentFailed is called when an incoming file could not be stored.
	AttachmentFailed(filename string, err error)
	// Disconnected is called when the relay ends the session.
	Disconnected()
}

// Session is a registered connection to a relay.
type Session struct {
	cfg    Config
	conn   net.Conn
	framer *protocol.Framer
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to cfg.Server and registers cfg.User with its follow terms.
// A non-200 reply yields an error wrapping ErrRegistrationRejected.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := ParseServerURL(cfg.Server)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		framer: protocol.NewFramer(conn, protocol.DefaultMaxLineLength),
		log:    log.With("user", cfg.User, "server", addr),
	}
	if err := s.register(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.log.Debug("Registered")
	return s, nil
}

func (s *Session) register() error {
	handshake := protocol.RegisterLine(s.cfg.User) + "\n"
	if terms := s.cfg.FollowTerms(); len(terms) > 0 {
		handshake += protocol.FollowLine(terms) + "\n"
	}
	if err := s.write(handshake + "\n"); err != nil {
		return err
	}

	reply, err := s.framer.ReadLine()
	if err != nil {
		return fmt.Errorf("read registration reply: %w", err)
	}
	if reply != protocol.ReplyRegistered {
		return fmt.Errorf("%w: %s", ErrRegistrationRejected, reply)
	}
	return nil
}

// User returns the registered identity.
func (s *Session) User() string {
	return s.cfg.User
}

// Send relays text as a message from this session's user.
func (s *Session) Send(text string) error {
	return s.write(fmt.Sprintf("@%s: %s\n", s.cfg.User, text))
}

// Disconnect unregisters and closes the connection. It is safe to call
// more than once.
func (s *Session) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.write(protocol.ClientDisconnectLine(s.cfg.User) + "\n")
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// Close drops the connection without unregistering.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Run reads from the relay until it disconnects the session, the
// connection fails or ctx is done. On ctx cancellation the session sends
// DISCONNECT first and Run returns ctx.Err().
func (s *Session) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		if err := s.Disconnect(); err != nil {
			s.log.Debug("Disconnect on cancel failed", "error", err)
		}
	})
	defer stop()

	for {
		line, err := s.framer.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("read: %w", err)
		}

		word, rest, _ := strings.Cut(line, " ")
		switch word {
		case protocol.KeywordDisconnect:
			_ = s.Close()
			h.Disconnected()
			return nil
		case protocol.KeywordAttach:
			if err := s.upload(firstField(rest), h); err != nil {
				return err
			}
		case protocol.KeywordAttachment:
			if err := s.download(firstField(rest), h); err != nil {
				return err
			}
		default:
			h.Message(line)
		}
	}
}

// upload answers an ATTACH request with the named file from the upload
// directory, or a Content-Length of -1 when it cannot be read.
func (s *Session) upload(filename string, h Handler) error {
	path := filepath.Join(s.cfg.UploadDir, filepath.Base(filename))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, size, err := openUpload(path)
	if err != nil {
		s.log.Warn("Cannot read attachment", "file", path, "error", err)
		if _, err := io.WriteString(s.conn, protocol.ContentLengthLine(-1)+"\n"); err != nil {
			return fmt.Errorf("write content length: %w", err)
		}
		h.Uploaded(filename, -1)
		return nil
	}
	defer f.Close()

	if _, err := io.WriteString(s.conn, protocol.ContentLengthLine(size)+"\n"); err != nil {
		return fmt.Errorf("write content length: %w", err)
	}
	buf := make([]byte, s.cfg.ChunkSize)
	if _, err := io.CopyBuffer(s.conn, io.LimitReader(f, size), buf); err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	h.Uploaded(filename, size)
	return nil
}

func openUpload(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%s is not a regular file", path)
	}
	return f, info.Size(), nil
}

// download reads the header lines and body following an ATTACHMENT line
// and stores the body in the download directory. The body is always
// consumed so the stream stays framed.
func (s *Session) download(filename string, h Handler) error {
	origin, err := s.framer.ReadLine()
	if err != nil {
		return fmt.Errorf("read attachment origin: %w", err)
	}
	lengthLine, err := s.framer.ReadLine()
	if err != nil {
		return fmt.Errorf("read attachment length: %w", err)
	}

	h.Message(origin)
	h.Message(lengthLine)

	sender, ok := strings.CutPrefix(origin, protocol.OriginPrefix)
	size, lerr := protocol.ParseContentLength(lengthLine)
	if !ok || lerr != nil || size < 0 {
		h.AttachmentFailed(filename, ErrInvalidAttachmentHeader)
		return nil
	}

	path := filepath.Join(s.cfg.DownloadDir, filepath.Base(filename))
	if err := s.store(path, size); err != nil {
		var streamErr *streamError
		if errors.As(err, &streamErr) {
			return streamErr.err
		}
		h.AttachmentFailed(filename, err)
		return nil
	}

	a := Attachment{Filename: filename, Origin: sender, Path: path, Size: size}
	if mt, err := mimetype.DetectFile(path); err == nil {
		a.MIME = mt.String()
	}
	h.Attachment(a)
	return nil
}

// streamError marks failures reading from the relay, as opposed to local
// file errors.
type streamError struct {
	err error
}

func (e *streamError) Error() string {
	return e.err.Error()
}

func (s *Session) store(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		if _, derr := io.CopyN(io.Discard, s.framer, size); derr != nil {
			return &streamError{fmt.Errorf("discard attachment: %w", derr)}
		}
		return err
	}

	n, err := io.CopyN(f, s.framer, size)
	if cerr := f.Close(); err == nil && cerr != nil {
		return cerr
	}
	if err != nil {
		_ = os.Remove(path)
		if n < size {
			return &streamError{fmt.Errorf("read attachment: %w", err)}
		}
		return err
	}
	return nil
}

func (s *Session) write(p string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.conn, p); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// firstField returns the filename of an "ATTACH f CHAT/1.0" style line.
func firstField(rest string) string {
	if fields := strings.Fields(rest); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
