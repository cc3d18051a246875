package varlink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// Client calls the relay service over its Unix domain socket. Each call
// dials a fresh connection, matching the short-lived exchanges the
// protocol is designed around; no connection state is kept between
// calls.
type Client struct {
	socketPath string
}

// NewClient returns a client for the service listening at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SendKeys invokes io.ducky.Keystroke.SendKeys. A typed service error
// is returned as *CallError.
func (c *Client) SendKeys(keys []string, pressed bool) (SendKeysReply, error) {
	var reply SendKeysReply
	err := c.call(MethodSendKeys, SendKeysParams{Keys: keys, Pressed: pressed}, &reply)
	if err != nil {
		return SendKeysReply{}, err
	}
	return reply, nil
}

func (c *Client) call(method string, params any, out any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, defaultDialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(defaultCallTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	rawReq, err := EncodeRequest(method, params)
	if err != nil {
		return err
	}
	if err := WriteFrame(conn, rawReq); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rawResp, err := ReadFrame(bufio.NewReaderSize(conn, MaxFrameBytes+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	resp, err := DecodeResponse(rawResp)
	if err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	if resp.Error != "" {
		var ep ErrorParams
		// A missing or malformed message still yields the error name.
		_ = json.Unmarshal(resp.Parameters, &ep)
		return NewCallError(resp.Error, ep.Message)
	}

	if out != nil && len(resp.Parameters) > 0 {
		if err := json.Unmarshal(resp.Parameters, out); err != nil {
			return fmt.Errorf("invalid response parameters: %w", err)
		}
	}
	return nil
}
