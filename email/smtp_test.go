package email

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// relayRecorder captures what a fake relay received from one session.
type relayRecorder struct {
	mu   sync.Mutex
	from string
	to   string
	data string
}

func (r *relayRecorder) snapshot() (from, to, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.from, r.to, r.data
}

// runPlainRelay serves a single SMTP session that speaks plain RFC 5321
// with no extensions, like a local queueing relay on port 25.
func runPlainRelay(t *testing.T) (addr string, rec *relayRecorder) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	rec = &relayRecorder{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		fmt.Fprintf(conn, "220 relay.test ESMTP\r\n")
		inData := false
		var body strings.Builder
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if inData {
				if line == "." {
					inData = false
					rec.mu.Lock()
					rec.data = body.String()
					rec.mu.Unlock()
					fmt.Fprintf(conn, "250 2.0.0 queued\r\n")
					continue
				}
				body.WriteString(line)
				body.WriteString("\n")
				continue
			}
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				fmt.Fprintf(conn, "250 relay.test\r\n")
			case strings.HasPrefix(line, "MAIL FROM:"):
				rec.mu.Lock()
				rec.from = line
				rec.mu.Unlock()
				fmt.Fprintf(conn, "250 2.1.0 ok\r\n")
			case strings.HasPrefix(line, "RCPT TO:"):
				rec.mu.Lock()
				rec.to = line
				rec.mu.Unlock()
				fmt.Fprintf(conn, "250 2.1.5 ok\r\n")
			case line == "DATA":
				inData = true
				fmt.Fprintf(conn, "354 go ahead\r\n")
			case line == "QUIT":
				fmt.Fprintf(conn, "221 2.0.0 bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "250 ok\r\n")
			}
		}
	}()
	return ln.Addr().String(), rec
}

func TestSMTPProviderDeliversToPlainRelay(t *testing.T) {
	addr, rec := runPlainRelay(t)
	provider := NewSMTPProvider(addr, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := &Message{
		FromName: "Alice",
		FromAddr: "bridge@mail.example",
		To:       "reader@mail.example",
		Subject:  "Hello",
		Date:     time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC),
		Body:     "Hello\n",
	}
	if err := provider.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	from, to, data := rec.snapshot()
	if !strings.Contains(from, "<bridge@mail.example>") {
		t.Errorf("envelope sender = %q, want bridge@mail.example", from)
	}
	if !strings.Contains(to, "<reader@mail.example>") {
		t.Errorf("envelope recipient = %q, want reader@mail.example", to)
	}
	if !strings.Contains(data, "Subject: Hello") {
		t.Errorf("relay received data without the subject:\n%s", data)
	}
}

func TestSMTPProviderReportsConnectFailure(t *testing.T) {
	provider := NewSMTPProvider("127.0.0.1:1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg := &Message{FromAddr: "bridge@mail.example", To: "reader@mail.example", Date: time.Now()}
	if err := provider.Send(context.Background(), msg); err == nil {
		t.Fatal("Send() error = nil, want connection failure")
	}
}
