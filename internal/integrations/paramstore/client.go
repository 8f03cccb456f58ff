package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads widget settings from SSM Parameter Store. Values are decrypted
// and cached for the lifetime of the process.
type Client struct {
	api    ssmAPI
	prefix string

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Client. Relative names passed to Lookup are resolved under
// prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{
		api:    api,
		prefix: strings.TrimRight(strings.TrimSpace(prefix), "/"),
		cache:  make(map[string]string),
	}, nil
}

// Resolve turns a relative name into a full parameter path.
func (c *Client) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "/") || c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}

// GetParameter returns the value of name, failing when it does not exist.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	v, found, err := c.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("paramstore: parameter %q not found", c.Resolve(name))
	}
	return v, nil
}

// Lookup returns the value of name and whether it exists.
func (c *Client) Lookup(ctx context.Context, name string) (string, bool, error) {
	if c.api == nil {
		return "", false, errors.New("paramstore: client not initialized")
	}
	full := c.Resolve(name)
	if full == "" {
		return "", false, errors.New("paramstore: name is required")
	}

	c.mu.Lock()
	v, ok := c.cache[full]
	c.mu.Unlock()
	if ok {
		return v, true, nil
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	var notFound *types.ParameterNotFound
	if errors.As(err, &notFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("paramstore: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, errors.New("paramstore: parameter missing value")
	}

	c.mu.Lock()
	c.cache[full] = *out.Parameter.Value
	c.mu.Unlock()
	return *out.Parameter.Value, true, nil
}
