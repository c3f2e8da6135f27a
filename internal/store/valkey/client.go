// Package valkey publishes mass indexing progress to a Valkey stream.
package valkey

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// Config holds the connection settings.
type Config struct {
	Addr     string
	Password string
	Stream   string
}

// DefaultStream is the stream progress events are appended to.
const DefaultStream = "massindex:progress"

func NewClient(cfg Config) (valkey.Client, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	// Verify connectivity
	ctx := context.Background()
	resp := client.Do(ctx, client.B().Ping().Build())
	if err := resp.Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	return client, nil
}
