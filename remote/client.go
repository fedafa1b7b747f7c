package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/pkg/errors"

	"github.com/hubertat/ictboard/errcode"
)

// Client dials once per request. Deadlines come from the request context.
type Client struct {
	Network string
	Address string

	dialer net.Dialer
}

func NewClient(network, address string) *Client {
	return &Client{Network: network, Address: address}
}

// Do sends one request and waits for its response. A failed response is returned
// as is; only transport and decoding problems produce an error.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var resp Response

	line, err := EncodeLine(req)
	if err != nil {
		return resp, err
	}

	conn, err := c.dialer.DialContext(ctx, c.Network, c.Address)
	if err != nil {
		return resp, errcode.Wrapf(err, errcode.DeviceUnavailable, "dial %s %s", c.Network, c.Address)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(line); err != nil {
		return resp, errors.Wrap(err, "send request")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return resp, errors.Wrap(err, "read response")
		}
		return resp, errors.Wrap(errcode.Protocol, "connection closed without response")
	}

	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return resp, errcode.Wrap(err, errcode.Protocol, "malformed response")
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err()
}

func (c *Client) GetBits(ctx context.Context, board, port int) (byte, error) {
	ps := PortSelector(port)
	resp, err := c.call(ctx, Request{BoardIndex: board, Command: GetBits, Port: &ps})
	if err != nil {
		return 0, err
	}
	if resp.Bits == nil {
		return 0, errors.Wrap(errcode.Protocol, "response without Bits")
	}
	return *resp.Bits, nil
}

func (c *Client) SetBits(ctx context.Context, board, port int, value byte) error {
	ps := PortSelector(port)
	_, err := c.call(ctx, Request{BoardIndex: board, Command: SetBits, Port: &ps, Value: &value})
	return err
}

func (c *Client) GetVoltage(ctx context.Context, board, channel int) (float64, error) {
	resp, err := c.call(ctx, Request{BoardIndex: board, Command: GetVoltage, Channel: &channel})
	if err != nil {
		return 0, err
	}
	if resp.Voltage == nil {
		return 0, errors.Wrap(errcode.Protocol, "response without Voltage")
	}
	return *resp.Voltage, nil
}

func (c *Client) GetIdentity(ctx context.Context, board int) (string, error) {
	resp, err := c.call(ctx, Request{BoardIndex: board, Command: GetIdentity})
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}
