package rcon

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// fakeServer is a minimal RCON endpoint for exercising the client: it
// authenticates against a fixed password and echoes commands back with a
// prefix.
type fakeServer struct {
	ln       net.Listener
	password string
}

func newFakeServer(t *testing.T, password string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	s := &fakeServer{ln: ln, password: password}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		pkt, err := readFrame(conn)
		if err != nil {
			return
		}
		switch pkt.Type {
		case TypeAuth:
			// Real servers send an empty RESPONSE_VALUE ahead of the
			// auth response; do the same so the client has to skip it.
			writeFrame(conn, pkt.ID, TypeResponseValue, "")
			if pkt.Body == s.password {
				writeFrame(conn, pkt.ID, TypeAuthResponse, "")
			} else {
				writeFrame(conn, AuthFailedID, TypeAuthResponse, "")
			}
		case TypeExecCommand:
			writeFrame(conn, pkt.ID, TypeResponseValue, "echo:"+pkt.Body)
		}
	}
}

func readFrame(conn net.Conn) (Packet, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(conn, prefix); err != nil {
		return Packet{}, err
	}
	size := binary.LittleEndian.Uint32(prefix)
	rest := make([]byte, size)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return Packet{}, err
	}
	return Decode(append(prefix, rest...))
}

func writeFrame(conn net.Conn, id, packetType int32, body string) {
	frame, err := Encode(id, packetType, body)
	if err != nil {
		return
	}
	conn.Write(frame)
}

func TestClientConnectAndSend(t *testing.T) {
	srv := newFakeServer(t, "hunter2")

	c := NewClient(ClientConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Password: "hunter2",
		Timeout:  2 * time.Second,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if !c.IsConnected() {
		t.Fatal("IsConnected = false after successful connect")
	}

	resp, err := c.Send("players")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp != "echo:players" {
		t.Errorf("response = %q, want %q", resp, "echo:players")
	}

	// A second command reuses the same connection with a fresh id.
	resp, err = c.Send("save")
	if err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if resp != "echo:save" {
		t.Errorf("response = %q, want %q", resp, "echo:save")
	}
}

func TestClientAuthFailure(t *testing.T) {
	srv := newFakeServer(t, "hunter2")

	c := NewClient(ClientConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Password: "wrong",
		Timeout:  2 * time.Second,
	})
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect error = %v, want ErrAuthFailed", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after auth failure")
	}
}

func TestClientConnectionRefused(t *testing.T) {
	// Grab a free port and close the listener so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient(ClientConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Password: "hunter2",
		Timeout:  2 * time.Second,
	})
	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("Connect error = %v, want ErrConnectionRefused", err)
	}
}

func TestClientSendWithoutConnect(t *testing.T) {
	c := NewClient(ClientConfig{Host: "127.0.0.1", Port: 2458, Password: "x"})
	if _, err := c.Send("ping"); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Send error = %v, want ErrDisconnected", err)
	}
}

func TestClientDisconnectIdempotent(t *testing.T) {
	srv := newFakeServer(t, "hunter2")

	c := NewClient(ClientConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Password: "hunter2",
		Timeout:  2 * time.Second,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	c.Disconnect()
	c.Disconnect()
	if c.IsConnected() {
		t.Error("IsConnected = true after Disconnect")
	}
	if _, err := c.Send("ping"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send after disconnect = %v, want ErrDisconnected", err)
	}
}
