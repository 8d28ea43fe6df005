package provider

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// TLSOptions covers the Sber endpoints, which chain to the Russian
// trusted root CA. Either skip verification or point CABundle at the
// downloaded russiantrustedca.pem.
type TLSOptions struct {
	InsecureSkipVerify bool
	CABundle           string
}

// newHTTPClient returns a pooled HTTP client shared per provider.
func newHTTPClient(timeout time.Duration, tlsOpts TLSOptions) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	tlsCfg := &tls.Config{}
	if tlsOpts.InsecureSkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}
	if tlsOpts.CABundle != "" {
		pem, err := os.ReadFile(tlsOpts.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", tlsOpts.CABundle)
		}
		tlsCfg.RootCAs = pool
		tlsCfg.InsecureSkipVerify = false
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
