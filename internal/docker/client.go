package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// restartTimeout is how long a proxy gets to exit before it is killed.
const restartTimeout = 10

// containerAPI is the part of the Docker engine API the panel uses.
type containerAPI interface {
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	Close() error
}

// Client wraps the official Docker client to restart and inspect proxy containers.
type Client struct {
	cli containerAPI
}

// New creates a new Docker client wrapper from the DOCKER_* environment.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// RestartContainer restarts a container by name or ID.
func (c *Client) RestartContainer(ctx context.Context, name string) error {
	timeout := restartTimeout
	if err := c.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart container %s: %w", name, err)
	}
	return nil
}

// ContainerStatus is the reduced inspect result reported on the health endpoint.
type ContainerStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Status inspects a container. Lookup failures are reported in the status
// rather than returned, so one missing proxy does not hide the others.
func (c *Client) Status(ctx context.Context, name string) ContainerStatus {
	st := ContainerStatus{Name: name}
	info, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		st.Status = "unknown"
		st.Error = err.Error()
		return st
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		st.Status = "unknown"
		st.Error = "inspect returned no state"
		return st
	}
	st.Status = string(info.State.Status)
	st.Running = info.State.Running
	return st
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	return c.cli.Close()
}
