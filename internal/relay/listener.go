package relay

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Socket-activation environment contract (sd_listen_fds): the
// supervisor sets LISTEN_PID to the child's pid and LISTEN_FDS to the
// number of inherited listening descriptors, which start right after
// the standard streams.
const (
	envListenPID = "LISTEN_PID"
	envListenFDs = "LISTEN_FDS"

	listenFDsStart = 3
)

// osGetpid is a test seam.
var osGetpid = os.Getpid

// Listen returns the relay's listening socket. When the environment
// says this process was socket-activated, the first inherited
// descriptor is adopted; otherwise any stale socket file at socketPath
// is removed and a fresh Unix socket is bound. The decision is made
// exactly once — the rest of the relay only ever sees a net.Listener.
// The returned bool reports whether the socket was inherited.
func Listen(socketPath string) (net.Listener, bool, error) {
	if socketActivated() {
		ln, err := activatedListener()
		if err != nil {
			return nil, false, err
		}
		return ln, true, nil
	}

	if err := os.Remove(socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, false, fmt.Errorf("bind %s: %w", socketPath, err)
	}
	return ln, false, nil
}

// consumeActivationEnv clears the sd_listen_fds variables once the
// descriptor is adopted so they cannot mislead child processes.
func consumeActivationEnv() {
	os.Unsetenv(envListenPID)
	os.Unsetenv(envListenFDs)
}

// socketActivated reports whether both activation signals name exactly
// this process with at least one descriptor.
func socketActivated() bool {
	pid, err := strconv.Atoi(os.Getenv(envListenPID))
	if err != nil || pid != osGetpid() {
		return false
	}
	nfds, err := strconv.Atoi(os.Getenv(envListenFDs))
	return err == nil && nfds >= 1
}

func activatedListener() (net.Listener, error) {
	// The activation environment is consumed here; spawned commands
	// must see neither the variables nor the descriptor.
	consumeActivationEnv()
	unix.CloseOnExec(listenFDsStart)

	f := os.NewFile(uintptr(listenFDsStart), "listen-socket")
	if f == nil {
		return nil, errors.New("socket activation: descriptor 3 is not open")
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("socket activation: adopt descriptor: %w", err)
	}
	slog.Info("[relay] adopted socket-activated listener", "addr", ln.Addr())
	return ln, nil
}
