package lifecycle

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/doorbelld/doorbelld/internal/config"
	"github.com/doorbelld/doorbelld/internal/doorbellerr"
)

// newMQTTClient builds the paho client the control router depends on,
// authenticating with whichever credential scheme §4.9 names: a root CA
// plus client certificate and key, or a username/password, or an access
// token, selected by which fields are populated in cfg.
func newMQTTClient(cfg config.ControlConfig, deviceID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(deviceID).
		SetAutoReconnect(true)

	if cfg.CAFile != "" || cfg.CertFile != "" {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, doorbellerr.New(doorbellerr.NoResources, "lifecycle", "newMQTTClient", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	switch {
	case cfg.Username != "":
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	case cfg.AccessToken != "":
		opts.SetUsername(deviceID)
		opts.SetPassword(cfg.AccessToken)
	}

	return mqtt.NewClient(opts), nil
}

func buildTLSConfig(cfg config.ControlConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		// #nosec G304 -- ca_file is an administrator-controlled config path
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
