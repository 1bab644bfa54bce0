package ctlproto

import (
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
)

func TestCallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctl.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			return
		}
		if req.Command != "status" {
			json.NewEncoder(conn).Encode(Err(errors.New("unexpected command")))
			return
		}
		json.NewEncoder(conn).Encode(Ok(StatusResult{Version: "test", ActiveConns: 2}))
	}()

	resp, err := Call(sockPath, Request{Command: "status"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected OK response, got error %q", resp.Error)
	}

	var status StatusResult
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if status.Version != "test" || status.ActiveConns != 2 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestCallDialFailure(t *testing.T) {
	_, err := Call(filepath.Join(t.TempDir(), "nonexistent.sock"), Request{Command: "status"})
	if err == nil {
		t.Fatal("expected an error dialing a nonexistent socket")
	}
}

func TestErrResponseCarriesMessage(t *testing.T) {
	resp := Err(errors.New("boom"))
	if resp.OK {
		t.Error("Err response must have OK=false")
	}
	if resp.Error != "boom" {
		t.Errorf("Error = %q, want boom", resp.Error)
	}
}
