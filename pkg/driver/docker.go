package driver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/cuemby/gatewayd/pkg/types"
)

// DockerDriver drives project containers through the Docker Engine API.
type DockerDriver struct {
	api *client.Client
}

// NewDockerDriver connects to a Docker daemon reachable at host, which may
// be a unix socket path or a tcp(s):// endpoint.
func NewDockerDriver(host string) (*DockerDriver, error) {
	if host == "" {
		host = dockerHostFromEnv()
	}

	var opts []client.Opt
	switch {
	case strings.HasPrefix(host, "tcp://"), strings.HasPrefix(host, "tcps://"):
		opts = append(opts, client.WithHost(host))
	default:
		host = strings.TrimPrefix(host, "unix://")
		opts = append(opts,
			client.WithHost("unix://"+host),
			client.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
						return net.DialTimeout("unix", host, 30*time.Second)
					},
				},
			}),
		)
	}

	api, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerDriver{api: api}, nil
}

func (d *DockerDriver) Ping(ctx context.Context) error {
	_, err := d.api.Ping(ctx, client.PingOptions{})
	return err
}

func (d *DockerDriver) Close() error { return d.api.Close() }

// Create instantiates (but does not start) a new container for a project,
// attaching it to settings.NetworkName and labeling it for correlation.
func (d *DockerDriver) Create(ctx context.Context, name string, settings types.ContainerSettings) (string, error) {
	containerName := settings.Prefix + name

	env := append([]string{}, settings.Env...)
	if settings.ProvisionerHost != "" {
		env = append(env, "PROVISIONER_HOST="+settings.ProvisionerHost)
	}

	cfg := &container.Config{
		Image: settings.Image,
		Env:   env,
		Labels: map[string]string{
			"gatewayd.project": name,
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyOnFailure, MaximumRetryCount: 0},
	}
	var netCfg *network.NetworkingConfig
	if settings.NetworkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				settings.NetworkName: {},
			},
		}
	}

	resp, err := d.api.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name:             containerName,
		Config:           cfg,
		HostConfig:       hostCfg,
		NetworkingConfig: netCfg,
	})
	if err != nil {
		return "", classify(err)
	}
	return resp.ID, nil
}

// Inspect reports the driver's ground-truth view of a container.
func (d *DockerDriver) Inspect(ctx context.Context, containerID string) (Status, error) {
	resp, err := d.api.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		return Status{}, classify(err)
	}

	inspect := resp.Container
	st := Status{
		Running: inspect.State != nil && inspect.State.Running,
		Image:   inspect.Config.Image,
		Labels:  inspect.Config.Labels,
	}
	if inspect.NetworkSettings != nil {
		for _, ep := range inspect.NetworkSettings.Networks {
			if ep.IPAddress != "" {
				st.Address = ep.IPAddress
				break
			}
		}
	}
	return st, nil
}

func (d *DockerDriver) Start(ctx context.Context, containerID string) error {
	_, err := d.api.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return classify(err)
}

func (d *DockerDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	_, err := d.api.ContainerStop(ctx, containerID, client.ContainerStopOptions{Timeout: &seconds})
	return classify(err)
}

func (d *DockerDriver) Remove(ctx context.Context, containerID string, force bool) error {
	_, err := d.api.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && cerrdefs.IsNotFound(err) {
		// Remove is required to be idempotent: "no such container" is success.
		return nil
	}
	return classify(err)
}

// classify collapses Docker Engine API errors into the driver's taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case cerrdefs.IsNotFound(err):
		return &Error{Kind: NotFound, Err: err}
	case cerrdefs.IsAlreadyExists(err):
		return &Error{Kind: AlreadyExists, Err: err}
	case cerrdefs.IsUnavailable(err), cerrdefs.IsDeadlineExceeded(err), cerrdefs.IsCanceled(err), isConnRefused(err):
		return &Error{Kind: Transient, Err: err}
	default:
		return &Error{Kind: Fatal, Err: err}
	}
}

func isConnRefused(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF")
}

// dockerHostFromEnv mirrors the DOCKER_HOST convention used by the docker
// CLI itself, used when --docker-host is left unset.
func dockerHostFromEnv() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}
	return "/var/run/docker.sock"
}
