package protocol

import (
	"bufio"
	"net"
	"testing"
	"time"
)

type recordingDispatcher struct {
	received []Type
}

func (d *recordingDispatcher) Dispatch(core *ConnectionCore, msg *Message) error {
	d.received = append(d.received, msg.Type)
	if msg.Type == TypePing {
		return core.Send(TypePong)
	}
	return nil
}

func TestConnectionHandshakeAndPingPong(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	dispatcher := &recordingDispatcher{}
	core := NewConnectionCore(serverConn, dispatcher, nil)

	stopped := false
	done := make(chan error, 1)
	go func() {
		done <- core.Run(func() bool { return stopped })
	}()

	clientReader := bufio.NewReader(clientConn)

	// Server must send HELLO first.
	helloLine, err := clientReader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("failed to read HELLO: %v", err)
	}
	helloMsg, err := Parse(helloLine)
	if err != nil {
		t.Fatalf("failed to parse HELLO: %v", err)
	}
	if helloMsg.Type != TypeHello {
		t.Fatalf("expected HELLO, got %v", helloMsg.Type)
	}

	// Client replies HELLO to negotiate.
	if _, err := clientConn.Write([]byte(Build(TypeHello, "VERSION", "1"))); err != nil {
		t.Fatalf("failed to write HELLO reply: %v", err)
	}

	// Client sends PING, expects PONG.
	if _, err := clientConn.Write([]byte(Build(TypePing))); err != nil {
		t.Fatalf("failed to write PING: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pongLine, err := clientReader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("failed to read PONG: %v", err)
	}
	pongMsg, err := Parse(pongLine)
	if err != nil {
		t.Fatalf("failed to parse PONG: %v", err)
	}
	if pongMsg.Type != TypePong {
		t.Fatalf("expected PONG reply, got %v", pongMsg.Type)
	}

	stopped = true
	core.Close()
	clientConn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestPreHelloMessageIsProtocolError(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := NewConnectionCore(serverConn, &recordingDispatcher{}, nil)
	done := make(chan error, 1)
	go func() { done <- core.Run(nil) }()

	clientReader := bufio.NewReader(clientConn)
	if _, err := clientReader.ReadBytes('\n'); err != nil {
		t.Fatalf("failed to read HELLO: %v", err)
	}

	// Send something other than HELLO before negotiating.
	if _, err := clientConn.Write([]byte(Build(TypeReadStatus, "BOARD1"))); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to return a protocol error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected connection to close after a pre-HELLO violation")
	}
}
