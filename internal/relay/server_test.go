package relay

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"duckycap/internal/config"
	"duckycap/internal/varlink"
)

func startTestServer(t *testing.T, f *serviceFixture) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "duckycap.varlink")
	ln, activated, err := Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if activated {
		t.Fatal("Listen() reported socket activation in a plain test environment")
	}

	srv := NewServer(ln, f.svc)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	return socketPath
}

func TestServerEndToEndSendKeys(t *testing.T) {
	f := newServiceFixture(t, []config.CommandMapping{{Keys: "meta+f1", Path: "/opt/lock.sh"}})
	socketPath := startTestServer(t, f)

	client := varlink.NewClient(socketPath)
	reply, err := client.SendKeys([]string{"f1", "meta"}, true)
	if err != nil {
		t.Fatalf("SendKeys() error = %v", err)
	}
	if !reply.Success || !reply.Pressed {
		t.Fatalf("reply = %+v", reply)
	}

	f.settle(t)
	if got := f.runner.invocations(); len(got) != 1 || got[0] != "/opt/lock.sh" {
		t.Fatalf("invocations = %v", got)
	}
}

func TestServerReturnsTypedInvalidKeyError(t *testing.T) {
	f := newServiceFixture(t, nil)
	socketPath := startTestServer(t, f)

	_, err := varlink.NewClient(socketPath).SendKeys([]string{"  "}, true)
	callErr, ok := err.(*varlink.CallError)
	if !ok {
		t.Fatalf("SendKeys() error = %v, want *CallError", err)
	}
	if callErr.Name != varlink.ErrInvalidKey {
		t.Fatalf("error name = %q", callErr.Name)
	}
}

func TestServerConnectionSurvivesProtocolErrors(t *testing.T) {
	f := newServiceFixture(t, nil)
	socketPath := startTestServer(t, f)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReaderSize(conn, varlink.MaxFrameBytes+1)

	// Malformed JSON is answered with a typed error.
	if err := varlink.WriteFrame(conn, []byte(`{not json`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	raw, err := varlink.ReadFrame(reader)
	if err != nil {
		t.Fatalf("read error response: %v", err)
	}
	resp, err := varlink.DecodeResponse(raw)
	if err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error != varlink.ErrInvalidParameter {
		t.Fatalf("error = %q, want %q", resp.Error, varlink.ErrInvalidParameter)
	}

	// Unknown methods likewise.
	rawReq, err := varlink.EncodeRequest("io.ducky.Keystroke.Reboot", struct{}{})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if err := varlink.WriteFrame(conn, rawReq); err != nil {
		t.Fatalf("write unknown method: %v", err)
	}
	raw, err = varlink.ReadFrame(reader)
	if err != nil {
		t.Fatalf("read error response: %v", err)
	}
	resp, err = varlink.DecodeResponse(raw)
	if err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error != varlink.ErrMethodNotFound {
		t.Fatalf("error = %q, want %q", resp.Error, varlink.ErrMethodNotFound)
	}

	// The same connection still serves a valid request afterwards.
	rawReq, err = varlink.EncodeRequest(varlink.MethodSendKeys, varlink.SendKeysParams{Keys: []string{"a"}, Pressed: false})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if err := varlink.WriteFrame(conn, rawReq); err != nil {
		t.Fatalf("write valid request: %v", err)
	}
	raw, err = varlink.ReadFrame(reader)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp, err = varlink.DecodeResponse(raw)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error %q after recovery", resp.Error)
	}
}

func TestServerHandlesSequentialRequestsOnOneConnection(t *testing.T) {
	f := newServiceFixture(t, []config.CommandMapping{{Keys: "f1", Path: "/opt/f1.sh"}})
	socketPath := startTestServer(t, f)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReaderSize(conn, varlink.MaxFrameBytes+1)

	send := func(pressed bool) varlink.SendKeysReply {
		t.Helper()
		rawReq, err := varlink.EncodeRequest(varlink.MethodSendKeys, varlink.SendKeysParams{Keys: []string{"f1"}, Pressed: pressed})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := varlink.WriteFrame(conn, rawReq); err != nil {
			t.Fatalf("write: %v", err)
		}
		raw, err := varlink.ReadFrame(reader)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		resp, err := varlink.DecodeResponse(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error != "" {
			t.Fatalf("unexpected error %q", resp.Error)
		}
		var reply varlink.SendKeysReply
		if err := unmarshalReply(resp, &reply); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		return reply
	}

	first := send(true)
	if !first.Pressed {
		t.Fatal("first press should trigger")
	}
	release := send(false)
	if release.Pressed {
		t.Fatal("release must not report a trigger")
	}
	second := send(true)
	if second.Pressed {
		t.Fatal("immediate second press should be debounced")
	}

	f.settle(t)
	if got := f.runner.invocations(); len(got) != 1 {
		t.Fatalf("invocations = %v, want one", got)
	}
}

func TestStopReturnsWithIdleConnection(t *testing.T) {
	f := newServiceFixture(t, nil)
	socketPath := filepath.Join(t.TempDir(), "duckycap.varlink")
	ln, _, err := Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	srv := NewServer(ln, f.svc)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// An idle client that connects and never sends a frame must not
	// hold up shutdown.
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() blocked on an idle connection")
	}
}

func TestListenRemovesStaleSocketFile(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "duckycap.varlink")

	// Leave a dead socket file behind, as a crashed relay would.
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("pre-bind: %v", err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()
	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("stale socket missing: %v", err)
	}

	fresh, activated, err := Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer fresh.Close()
	if activated {
		t.Fatal("unexpected socket activation")
	}
}

func TestSocketActivatedRequiresMatchingPid(t *testing.T) {
	t.Setenv(envListenPID, strconv.Itoa(os.Getpid()+1))
	t.Setenv(envListenFDs, "1")
	if socketActivated() {
		t.Fatal("socketActivated() true for foreign pid")
	}

	t.Setenv(envListenPID, strconv.Itoa(os.Getpid()))
	t.Setenv(envListenFDs, "0")
	if socketActivated() {
		t.Fatal("socketActivated() true with zero descriptors")
	}

	t.Setenv(envListenFDs, "1")
	if !socketActivated() {
		t.Fatal("socketActivated() false despite matching pid and descriptor count")
	}
}

func TestConsumeActivationEnvClearsVariables(t *testing.T) {
	t.Setenv(envListenPID, strconv.Itoa(os.Getpid()))
	t.Setenv(envListenFDs, "1")

	consumeActivationEnv()

	if _, ok := os.LookupEnv(envListenPID); ok {
		t.Fatalf("%s still set after consumption", envListenPID)
	}
	if _, ok := os.LookupEnv(envListenFDs); ok {
		t.Fatalf("%s still set after consumption", envListenFDs)
	}
	if socketActivated() {
		t.Fatal("socketActivated() true after the environment was consumed")
	}
}

func unmarshalReply(resp varlink.Response, out *varlink.SendKeysReply) error {
	return json.Unmarshal(resp.Parameters, out)
}
