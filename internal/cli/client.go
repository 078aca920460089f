package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	httpHandler "github.com/anthanhphan/go-replicated-kv/internal/node/adapter/inbound/http"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

// ErrNotFound is returned when the key does not exist or was deleted.
var ErrNotFound = errors.New("key not found")

// StatusError is a non-2xx answer from a node.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node answered %d: %s", e.Status, e.Message)
}

// Client talks to the HTTP surface of one or more nodes. Any node can
// coordinate, so a transport failure moves on to the next endpoint.
type Client struct {
	endpoints []string
	timeout   time.Duration
}

func NewClient(endpoints []string, timeout time.Duration) (*Client, error) {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e == "" {
			continue
		}
		if !strings.Contains(e, "://") {
			e = "http://" + e
		}
		cleaned = append(cleaned, e)
	}
	if len(cleaned) == 0 {
		return nil, errors.New("no endpoints configured")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{endpoints: cleaned, timeout: timeout}, nil
}

type request struct {
	method  string
	path    string
	body    []byte
	version *version.Version
}

// do sends req to each endpoint in turn until one answers.
func (c *Client) do(req request, out any) error {
	var lastErr error
	for _, endpoint := range c.endpoints {
		status, body, err := c.send(endpoint, req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", endpoint, err)
			continue
		}
		return decode(status, body, out)
	}
	return lastErr
}

func (c *Client) send(endpoint string, req request) (int, []byte, error) {
	var agent *fiber.Agent
	target := endpoint + req.path
	switch req.method {
	case fiber.MethodPut:
		agent = fiber.Put(target)
	case fiber.MethodDelete:
		agent = fiber.Delete(target)
	case fiber.MethodPost:
		agent = fiber.Post(target)
	default:
		agent = fiber.Get(target)
	}
	agent.Timeout(c.timeout)
	if req.version != nil {
		raw, err := json.Marshal(req.version)
		if err != nil {
			fiber.ReleaseAgent(agent)
			return 0, nil, err
		}
		agent.Set(httpHandler.VersionHeader, string(raw))
	}
	if req.body != nil {
		agent.Body(req.body)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, nil, errors.Join(errs...)
	}
	return status, body, nil
}

func decode(status int, body []byte, out any) error {
	if status == fiber.StatusNotFound {
		return ErrNotFound
	}
	if status < 200 || status >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &StatusError{Status: status, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func keyPath(namespace, key string) string {
	return "/v1/kv/" + url.PathEscape(namespace) + "/" + url.PathEscape(key)
}

type versionReply struct {
	Version version.Version `json:"version"`
}

// Put writes value. base is the version the write supersedes, if known.
func (c *Client) Put(namespace, key string, value []byte, base *version.Version) (version.Version, error) {
	var reply versionReply
	err := c.do(request{method: fiber.MethodPut, path: keyPath(namespace, key), body: value, version: base}, &reply)
	return reply.Version, err
}

func (c *Client) Get(namespace, key string) (httpHandler.RecordView, error) {
	var view httpHandler.RecordView
	err := c.do(request{method: fiber.MethodGet, path: keyPath(namespace, key)}, &view)
	return view, err
}

func (c *Client) Delete(namespace, key string, base *version.Version) (version.Version, error) {
	var reply versionReply
	err := c.do(request{method: fiber.MethodDelete, path: keyPath(namespace, key), version: base}, &reply)
	return reply.Version, err
}

func (c *Client) Scan(namespace, prefix string, limit int) ([]httpHandler.RecordView, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/kv/" + url.PathEscape(namespace)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var views []httpHandler.RecordView
	err := c.do(request{method: fiber.MethodGet, path: path}, &views)
	return views, err
}

func (c *Client) Ring() (shard.Export, error) {
	var export shard.Export
	err := c.do(request{method: fiber.MethodGet, path: "/v1/ring"}, &export)
	return export, err
}

func (c *Client) Resolve(namespace, key string) (shard.Route, error) {
	var route shard.Route
	err := c.do(request{method: fiber.MethodGet, path: "/v1/ring/resolve/" + url.PathEscape(namespace) + "/" + url.PathEscape(key)}, &route)
	return route, err
}

func (c *Client) Members() ([]membership.State, error) {
	var members []membership.State
	err := c.do(request{method: fiber.MethodGet, path: "/v1/members"}, &members)
	return members, err
}

func (c *Client) Hints() ([]domain.HintStats, error) {
	var stats []domain.HintStats
	err := c.do(request{method: fiber.MethodGet, path: "/v1/hints"}, &stats)
	return stats, err
}

// Repair asks the receiving node to repair one partition against its peers.
func (c *Client) Repair(partition int) ([]domain.RepairReport, error) {
	var reply struct {
		Reports []domain.RepairReport `json:"reports"`
	}
	err := c.do(request{method: fiber.MethodPost, path: "/v1/repair/" + strconv.Itoa(partition)}, &reply)
	return reply.Reports, err
}
