package ipc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"idlefarm/internal/steam"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	call := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FarmSessions starts a session farm.
func (c *Client) FarmSessions(ctx context.Context, req FarmSessionsRequest) (*FarmResponse, error) {
	var resp FarmResponse
	if err := c.call(ctx, "FarmSessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FarmAchievements starts an achievement farm.
func (c *Client) FarmAchievements(ctx context.Context, req FarmAchievementsRequest) (*FarmResponse, error) {
	var resp FarmResponse
	if err := c.call(ctx, "FarmAchievements", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FarmCards starts card discovery and farming.
func (c *Client) FarmCards(ctx context.Context) (*FarmResponse, error) {
	var resp FarmResponse
	if err := c.call(ctx, "FarmCards", FarmCardsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop stops the active farm.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if err := c.call(ctx, "Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown(ctx context.Context) (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.call(ctx, "Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs returns one page of buffered log events.
func (c *Client) Logs(ctx context.Context, req LogsRequest) (*LogsResponse, error) {
	var resp LogsResponse
	if err := c.call(ctx, "Logs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent runs.
func (c *Client) History(ctx context.Context, limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call(ctx, "History", HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunCards lists card completions of one run.
func (c *Client) RunCards(ctx context.Context, runID string) (*RunCardsResponse, error) {
	var resp RunCardsResponse
	if err := c.call(ctx, "RunCards", RunCardsRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search queries the store catalog through the daemon.
func (c *Client) Search(ctx context.Context, term string) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.call(ctx, "Search", SearchRequest{Term: term}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Achievements fetches an app's achievement schema through the daemon.
func (c *Client) Achievements(ctx context.Context, appID steam.AppID) (*AchievementsResponse, error) {
	var resp AchievementsResponse
	if err := c.call(ctx, "Achievements", AchievementsRequest{AppID: appID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
