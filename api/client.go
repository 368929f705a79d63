package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/puddle-lab/puddle/sim"
)

// StatusError is a non-2xx response from the server. Droplet is set when the
// command failed after its output droplet reached the grid.
type StatusError struct {
	Code    int
	Message string
	Droplet *sim.DropletID
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// Client calls a remote process API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. The timeout is generous
// because a single command may wait behind a long queue of paced ticks.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("request creation error: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e errorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error, Droplet: e.Droplet}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("JSON parse error: %w", err)
	}
	return nil
}

func processPath(pid sim.ProcessID, op string) string {
	if op == "" {
		return fmt.Sprintf("/processes/%d", pid)
	}
	return fmt.Sprintf("/processes/%d/%s", pid, op)
}

// NewProcess registers a remote process.
func (c *Client) NewProcess(ctx context.Context, name string) (sim.ProcessID, error) {
	var resp processResponse
	if err := c.do(ctx, http.MethodPost, "/processes", newProcessRequest{Name: name}, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) CloseProcess(ctx context.Context, pid sim.ProcessID) error {
	return c.do(ctx, http.MethodDelete, processPath(pid, ""), nil, nil)
}

func (c *Client) Create(ctx context.Context, pid sim.ProcessID, loc *sim.Location, volume float64, dims *sim.Location) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "create", createRequest{Location: loc, Volume: volume, Dimensions: dims})
}

func (c *Client) Input(ctx context.Context, pid sim.ProcessID, substance string, volume float64, dims *sim.Location) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "input", inputRequest{Substance: substance, Volume: volume, Dimensions: dims})
}

func (c *Client) Output(ctx context.Context, pid sim.ProcessID, substance string, id sim.DropletID) error {
	return c.do(ctx, http.MethodPost, processPath(pid, "output"), outputRequest{Substance: substance, Droplet: id}, nil)
}

func (c *Client) Move(ctx context.Context, pid sim.ProcessID, id sim.DropletID, loc sim.Location) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "move", moveRequest{Droplet: id, Location: loc})
}

func (c *Client) Mix(ctx context.Context, pid sim.ProcessID, a, b sim.DropletID) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "mix", pairRequest{A: a, B: b})
}

func (c *Client) CombineInto(ctx context.Context, pid sim.ProcessID, a, b sim.DropletID) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "combine_into", pairRequest{A: a, B: b})
}

func (c *Client) Agitate(ctx context.Context, pid sim.ProcessID, id sim.DropletID, loops int) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "agitate", agitateRequest{Droplet: id, Loops: &loops})
}

func (c *Client) Heat(ctx context.Context, pid sim.ProcessID, id sim.DropletID, temperature, seconds float64) (sim.DropletID, error) {
	return c.droplet(ctx, pid, "heat", heatRequest{Droplet: id, Temperature: temperature, Seconds: seconds})
}

func (c *Client) Split(ctx context.Context, pid sim.ProcessID, id sim.DropletID) (sim.DropletID, sim.DropletID, error) {
	var resp splitResponse
	if err := c.do(ctx, http.MethodPost, processPath(pid, "split"), dropletRequest{Droplet: id}, &resp); err != nil {
		return sim.DropletID{}, sim.DropletID{}, err
	}
	return resp.Droplets[0], resp.Droplets[1], nil
}

// Flush waits for the process's queued commands and returns its droplets.
func (c *Client) Flush(ctx context.Context, pid sim.ProcessID) ([]sim.DropletInfo, error) {
	var info []sim.DropletInfo
	if err := c.do(ctx, http.MethodPost, processPath(pid, "flush"), nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Visualizer returns the global droplet snapshot and the tick it was taken at.
func (c *Client) Visualizer(ctx context.Context) (int64, []sim.DropletInfo, error) {
	var resp visualizerResponse
	if err := c.do(ctx, http.MethodGet, "/visualizer", nil, &resp); err != nil {
		return 0, nil, err
	}
	return resp.Tick, resp.Droplets, nil
}

func (c *Client) droplet(ctx context.Context, pid sim.ProcessID, op string, in any) (sim.DropletID, error) {
	var resp dropletResponse
	if err := c.do(ctx, http.MethodPost, processPath(pid, op), in, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Droplet != nil {
			return *se.Droplet, err
		}
		return sim.DropletID{}, err
	}
	return resp.Droplet, nil
}
