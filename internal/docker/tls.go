package docker

import (
	"net/http"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
)

// TLSOptions carries the certificate paths for a TLS-protected daemon socket.
type TLSOptions struct {
	Enabled bool
	// CA is the bundle used to verify the daemon certificate.
	CA   string
	Cert string
	Key  string
}

// NewClient returns an SDK-backed Docker client for the given host. An empty
// host falls back to the environment (DOCKER_HOST et al).
func NewClient(host string, tls TLSOptions) (Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	if tls.Enabled {
		tlsc, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:   tls.CA,
			CertFile: tls.Cert,
			KeyFile:  tls.Key,
		})
		if err != nil {
			return nil, err
		}
		httpClient := &http.Client{
			Transport:     &http.Transport{TLSClientConfig: tlsc},
			CheckRedirect: client.CheckRedirect,
		}
		opts = append(opts, client.WithHTTPClient(httpClient))
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &sdkClient{cli: c}, nil
}
