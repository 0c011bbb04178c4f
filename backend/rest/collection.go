package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"famhub/backend"
)

// Collection is the HTTP collaborator for one resource.
//
//	GET    <path>?<scope>  -> {"<plural>": [...]}
//	POST   <path>          -> {"<singular>": {...}}
//	PUT    <path>/<id>     -> {"<singular>": {...}}
//	DELETE <path>/<id>
//
// Items may carry their id as "id" or "_id"; "id" wins.
type Collection[T any, P any] struct {
	client   *Client
	resource backend.Resource[T]
}

// NewCollection binds a resource to a client.
func NewCollection[T any, P any](client *Client, resource backend.Resource[T]) *Collection[T, P] {
	return &Collection[T, P]{client: client, resource: resource}
}

// Resource returns the descriptor the collection was built with.
func (c *Collection[T, P]) Resource() backend.Resource[T] {
	return c.resource
}

// List implements backend.Collaborator.
func (c *Collection[T, P]) List(ctx context.Context, scope backend.Scope) ([]T, error) {
	query := url.Values{}
	for k, v := range scope {
		query.Set(k, v)
	}

	var envelope map[string]json.RawMessage
	if err := c.client.do(ctx, http.MethodGet, c.resource.Path, query, nil, &envelope); err != nil {
		return nil, err
	}

	raw, ok := envelope[c.resource.Plural]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.resource.Plural, err)
	}

	items := make([]T, 0, len(rawItems))
	for _, r := range rawItems {
		item, err := c.decodeItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Create implements backend.Collaborator. Temporary ids never reach the
// server.
func (c *Collection[T, P]) Create(ctx context.Context, draft T) (T, error) {
	if backend.IsTempID(c.resource.Key(draft)) {
		draft = c.resource.WithKey(draft, "")
	}
	return c.single(ctx, http.MethodPost, c.resource.Path, draft)
}

// Update implements backend.Collaborator.
func (c *Collection[T, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	return c.single(ctx, http.MethodPut, c.itemPath(id), patch)
}

// Delete implements backend.Collaborator.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	return c.client.do(ctx, http.MethodDelete, c.itemPath(id), nil, nil, nil)
}

func (c *Collection[T, P]) itemPath(id string) string {
	return c.resource.Path + "/" + url.PathEscape(id)
}

func (c *Collection[T, P]) single(ctx context.Context, method, path string, body any) (T, error) {
	var zero T
	var envelope map[string]json.RawMessage
	if err := c.client.do(ctx, method, path, nil, body, &envelope); err != nil {
		return zero, err
	}

	raw, ok := envelope[c.resource.Singular]
	if !ok {
		// Some endpoints answer with the bare item.
		var err error
		raw, err = json.Marshal(envelope)
		if err != nil {
			return zero, err
		}
	}
	return c.decodeItem(raw)
}

// decodeItem decodes one item, normalising its id from "id" or "_id". Ids
// may be JSON strings or numbers.
func (c *Collection[T, P]) decodeItem(raw json.RawMessage) (T, error) {
	var zero T

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return zero, fmt.Errorf("decode %s item: %w", c.resource.Singular, err)
	}
	id := idString(fields["id"])
	if id == "" {
		id = idString(fields["_id"])
	}
	delete(fields, "id")
	delete(fields, "_id")

	normalized, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	var item T
	if err := json.Unmarshal(normalized, &item); err != nil {
		return zero, fmt.Errorf("decode %s item: %w", c.resource.Singular, err)
	}
	return c.resource.WithKey(item, id), nil
}

func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Events returns the calendar event collaborator.
func Events(c *Client) *Collection[backend.Event, backend.EventPatch] {
	return NewCollection[backend.Event, backend.EventPatch](c, backend.Events)
}

// Todos returns the todo collaborator.
func Todos(c *Client) *Collection[backend.Todo, backend.TodoPatch] {
	return NewCollection[backend.Todo, backend.TodoPatch](c, backend.Todos)
}

// Memos returns the memo collaborator.
func Memos(c *Client) *Collection[backend.Memo, backend.MemoPatch] {
	return NewCollection[backend.Memo, backend.MemoPatch](c, backend.Memos)
}

var (
	_ backend.Collaborator[backend.Event, backend.EventPatch] = (*Collection[backend.Event, backend.EventPatch])(nil)
	_ backend.Collaborator[backend.Todo, backend.TodoPatch]   = (*Collection[backend.Todo, backend.TodoPatch])(nil)
	_ backend.Collaborator[backend.Memo, backend.MemoPatch]   = (*Collection[backend.Memo, backend.MemoPatch])(nil)
)
