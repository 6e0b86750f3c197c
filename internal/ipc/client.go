package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const serviceName = "Batchvec."

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// QueueGet returns the current queue view.
func (c *Client) QueueGet() (*QueueGetResponse, error) {
	return call[QueueGetResponse](c, "QueueGet", QueueGetRequest{})
}

// QueueAdd submits a new batch.
func (c *Client) QueueAdd(req QueueAddRequest) (*QueueAddResponse, error) {
	return call[QueueAddResponse](c, "QueueAdd", req)
}

// QueuePause pauses dispatching.
func (c *Client) QueuePause() (*QueueControlResponse, error) {
	return call[QueueControlResponse](c, "QueuePause", QueueControlRequest{})
}

// QueueResume resumes dispatching.
func (c *Client) QueueResume() (*QueueControlResponse, error) {
	return call[QueueControlResponse](c, "QueueResume", QueueControlRequest{})
}

// QueueCancel clears the queue.
func (c *Client) QueueCancel() (*QueueControlResponse, error) {
	return call[QueueControlResponse](c, "QueueCancel", QueueControlRequest{})
}

// QueueRetry requeues a named item.
func (c *Client) QueueRetry(name string) (*QueueRetryResponse, error) {
	return call[QueueRetryResponse](c, "QueueRetry", QueueRetryRequest{Name: name})
}

// ConfigGet returns durable settings.
func (c *Client) ConfigGet() (*ConfigGetResponse, error) {
	return call[ConfigGetResponse](c, "ConfigGet", ConfigGetRequest{})
}

// ConfigSet applies a partial settings update.
func (c *Client) ConfigSet(req ConfigSetRequest) (*ConfigSetResponse, error) {
	return call[ConfigSetResponse](c, "ConfigSet", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	return call[ShutdownResponse](c, "Shutdown", ShutdownRequest{})
}
