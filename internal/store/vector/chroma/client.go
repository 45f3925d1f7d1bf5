// Package chroma implements vector.Store by driving a chroma-mcp subprocess
// over its JSON-RPC-over-stdio wire protocol. No Go client for this
// protocol exists anywhere in the retrieved example corpus, so this package
// is a small hand-rolled bufio/encoding-json client.
package chroma

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/semcache/internal/store/vector"
)

// Config holds configuration for the ChromaDB client.
type Config struct {
	DataDir   string
	PythonVer string
	BatchSize int
}

// Client is a ChromaDB vector.Store backed by a chroma-mcp subprocess.
// Each model scope maps to its own collection ("semcache_<model>"); the
// subprocess and stdio pipe are shared across all models.
type Client struct {
	dataDir   string
	pythonVer string
	batchSize int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex

	connected bool
	requestID int
	known     map[string]bool
}

// NewClient creates a new (not-yet-connected) ChromaDB client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.PythonVer == "" {
		cfg.PythonVer = "3.13"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Client{
		dataDir:   cfg.DataDir,
		pythonVer: cfg.PythonVer,
		batchSize: cfg.BatchSize,
		known:     make(map[string]bool),
	}, nil
}

var _ vector.Store = (*Client)(nil)

func collectionName(model string) string { return "semcache_" + model }

// connect starts the chroma-mcp subprocess on first use.
func (c *Client) connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	if err := os.MkdirAll(c.dataDir, 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	c.cmd = exec.CommandContext(ctx, "uvx", // #nosec G204 -- config values from internal settings
		"--python", c.pythonVer,
		"chroma-mcp",
		"--client-type", "persistent",
		"--data-dir", c.dataDir,
	)

	var err error
	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	c.stdout = bufio.NewReader(stdout)
	c.cmd.Stderr = os.Stderr

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start chroma-mcp: %w", err)
	}

	if err := c.sendInitialize(); err != nil {
		_ = c.closeLocked()
		return fmt.Errorf("initialize: %w", err)
	}

	c.connected = true
	log.Info().Str("dataDir", c.dataDir).Msg("chroma: connected")
	return nil
}

func (c *Client) sendInitialize() error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID(),
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "semcache", "version": "1.0.0"},
		},
	}
	if err := c.send(req); err != nil {
		return err
	}
	_, err := c.readResponse()
	return err
}

// Create ensures the per-model collection exists.
func (c *Client) Create(ctx context.Context, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	return c.ensureCollectionLocked(model)
}

func (c *Client) ensureCollectionLocked(model string) error {
	name := collectionName(model)
	if c.known[name] {
		return nil
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID(),
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "chroma_get_collection_info",
			"arguments": map[string]any{"collection_name": name},
		},
	}
	if err := c.send(req); err == nil {
		if resp, err := c.readResponse(); err == nil {
			if _, hasErr := resp["error"]; !hasErr {
				c.known[name] = true
				return nil
			}
		}
	}
	return c.createCollectionLocked(name)
}

func (c *Client) createCollectionLocked(name string) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID(),
		"method":  "tools/call",
		"params": map[string]any{
			"name": "chroma_create_collection",
			"arguments": map[string]any{
				"collection_name":         name,
				"embedding_function_name": "default",
			},
		},
	}
	if err := c.send(req); err != nil {
		return err
	}
	if _, err := c.readResponse(); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.known[name] = true
	return nil
}

// MulAdd indexes a batch of precomputed (id, embedding) pairs under model.
func (c *Client) MulAdd(ctx context.Context, data []vector.Data, model string) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.ensureCollectionLocked(model); err != nil {
		return err
	}
	name := collectionName(model)

	for i := 0; i < len(data); i += c.batchSize {
		end := min(i+c.batchSize, len(data))
		batch := data[i:end]

		ids := make([]string, len(batch))
		embeddings := make([][]float32, len(batch))
		for j, d := range batch {
			ids[j] = fmt.Sprintf("%d", d.ID)
			embeddings[j] = d.Data
		}

		req := map[string]any{
			"jsonrpc": "2.0",
			"id":      c.nextID(),
			"method":  "tools/call",
			"params": map[string]any{
				"name": "chroma_add_documents",
				"arguments": map[string]any{
					"collection_name": name,
					"ids":             ids,
					"embeddings":      embeddings,
				},
			},
		}
		if err := c.send(req); err != nil {
			return fmt.Errorf("send add_documents: %w", err)
		}
		if _, err := c.readResponse(); err != nil {
			return fmt.Errorf("add_documents response: %w", err)
		}
	}
	return nil
}

// Search runs a nearest-neighbor query against model's collection.
func (c *Client) Search(ctx context.Context, query []float32, topK int, model string) ([]vector.Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	name := collectionName(model)
	if !c.known[name] {
		// Per the interface contract: an unprovisioned model returns an
		// empty result, not an error.
		return nil, nil
	}
	if topK < 0 {
		topK = 10
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID(),
		"method":  "tools/call",
		"params": map[string]any{
			"name": "chroma_query_documents",
			"arguments": map[string]any{
				"collection_name":  name,
				"query_embeddings": [][]float32{query},
				"n_results":        topK,
				"include":          []string{"distances"},
			},
		},
	}
	if err := c.send(req); err != nil {
		return nil, fmt.Errorf("send query: %w", err)
	}
	resp, err := c.readResponse()
	if err != nil {
		return nil, fmt.Errorf("query response: %w", err)
	}
	return parseQueryResults(resp)
}

func parseQueryResults(resp map[string]any) ([]vector.Match, error) {
	result, ok := resp["result"].(map[string]any)
	if !ok {
		return nil, nil
	}
	content, ok := result["content"].([]any)
	if !ok || len(content) == 0 {
		return nil, nil
	}
	first, ok := content[0].(map[string]any)
	if !ok {
		return nil, nil
	}
	text, ok := first["text"].(string)
	if !ok {
		return nil, nil
	}

	var parsed struct {
		IDs       [][]string  `json:"ids"`
		Distances [][]float64 `json:"distances"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, err
	}
	if len(parsed.IDs) == 0 || len(parsed.IDs[0]) == 0 {
		return nil, nil
	}

	matches := make([]vector.Match, 0, len(parsed.IDs[0]))
	for i, idStr := range parsed.IDs[0] {
		var id int64
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			continue
		}
		m := vector.Match{ID: id}
		if i < len(parsed.Distances[0]) {
			m.Distance = parsed.Distances[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes ids from model's collection. The returned count is
// len(ids), not the number of ids that were present in the collection.
func (c *Client) Delete(ctx context.Context, ids []int64, model string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return 0, err
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = fmt.Sprintf("%d", id)
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID(),
		"method":  "tools/call",
		"params": map[string]any{
			"name": "chroma_delete_documents",
			"arguments": map[string]any{
				"collection_name": collectionName(model),
				"ids":             strIDs,
			},
		},
	}
	if err := c.send(req); err != nil {
		return 0, fmt.Errorf("send delete_documents: %w", err)
	}
	if _, err := c.readResponse(); err != nil {
		return 0, fmt.Errorf("delete_documents response: %w", err)
	}
	return len(ids), nil
}

// RebuildCollection deletes and recreates model's collection.
func (c *Client) RebuildCollection(ctx context.Context, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	name := collectionName(model)

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID(),
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "chroma_delete_collection",
			"arguments": map[string]any{"collection_name": name},
		},
	}
	if err := c.send(req); err == nil {
		_, _ = c.readResponse()
	}
	delete(c.known, name)
	return c.createCollectionLocked(name)
}

// Flush is a no-op: chroma-mcp persists synchronously per tool call.
func (c *Client) Flush(ctx context.Context) error { return nil }

func (c *Client) send(req map[string]any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.stdin.Write(data)
	return err
}

func (c *Client) readResponse() (map[string]any, error) {
	line, err := c.stdout.ReadString('\n')
	if err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, err
	}
	if errObj, ok := resp["error"]; ok {
		return nil, fmt.Errorf("MCP error: %v", errObj)
	}
	return resp, nil
}

func (c *Client) nextID() int {
	c.requestID++
	return c.requestID
}

// Close terminates the chroma-mcp subprocess.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}
