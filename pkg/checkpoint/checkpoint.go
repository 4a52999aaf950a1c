// Package checkpoint persists task progress so collection resumes where it
// stopped. A Checkpointer renders a key and content from the job context;
// a Store keeps the content under that key.
package checkpoint

import (
	"context"
	"fmt"
	"strings"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// Store keeps checkpoint content by key. Implementations must be safe for
// concurrent use with distinct keys.
type Store interface {
	// Get returns the content stored under key. found is false when no
	// checkpoint exists.
	Get(ctx context.Context, key string) (content map[string]any, found bool, err error)

	// Update replaces the content stored under key.
	Update(ctx context.Context, key string, content map[string]any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Checkpointer is the compiled checkpoint configuration of one task.
type Checkpointer struct {
	prefix    string
	namespace token.List
	content   token.Map
}

// New compiles a checkpoint configuration. prefix identifies the owning
// task or input and is prepended to every key.
func New(prefix string, namespace []string, content map[string]string) (*Checkpointer, error) {
	if len(content) == 0 {
		return nil, cerrors.ErrEmptyCheckpoint
	}
	ns, err := token.CompileList(namespace)
	if err != nil {
		return nil, fmt.Errorf("namespace%w", err)
	}
	ct, err := token.CompileMap(content)
	if err != nil {
		return nil, fmt.Errorf("content.%w", err)
	}
	return &Checkpointer{prefix: prefix, namespace: ns, content: ct}, nil
}

// Key renders the namespace against v.
func (c *Checkpointer) Key(v vars.Context) (string, error) {
	parts, err := c.namespace.RenderStrings(v)
	if err != nil {
		return "", fmt.Errorf("render checkpoint namespace: %w", err)
	}
	if c.prefix != "" {
		parts = append([]string{c.prefix}, parts...)
	}
	return strings.Join(parts, "."), nil
}

// Content renders the content map against v.
func (c *Checkpointer) Content(v vars.Context) (map[string]any, error) {
	content, err := c.content.Render(v)
	if err != nil {
		return nil, fmt.Errorf("render checkpoint content: %w", err)
	}
	return content, nil
}

// Save renders key and content from v and writes them to store.
func (c *Checkpointer) Save(ctx context.Context, store Store, v vars.Context) error {
	key, err := c.Key(v)
	if err != nil {
		return err
	}
	content, err := c.Content(v)
	if err != nil {
		return err
	}
	if err := store.Update(ctx, key, content); err != nil {
		return cerrors.NewError("CHECKPOINT_SAVE", "failed to save checkpoint "+key, err)
	}
	return nil
}

// Load reads the checkpoint addressed by v. A missing checkpoint returns
// found == false and no error.
func (c *Checkpointer) Load(ctx context.Context, store Store, v vars.Context) (map[string]any, bool, error) {
	key, err := c.Key(v)
	if err != nil {
		return nil, false, err
	}
	content, found, err := store.Get(ctx, key)
	if err != nil {
		return nil, false, cerrors.NewError("CHECKPOINT_LOAD", "failed to load checkpoint "+key, err)
	}
	return content, found, nil
}
