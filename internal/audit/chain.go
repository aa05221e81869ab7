package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// GenesisHash is the prev_hash for the first event in a new chain file.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ChainSink is an append-only JSONL sink with SHA-256 hash chaining. Each
// event's prev_hash is the hash of the previous event's JSON line, forming a
// tamper-evident chain.
type ChainSink struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// OpenChain opens (or creates) a chain file for appending. If the file
// already exists, the last line is read back to recover the chain tail.
func OpenChain(path string) (*ChainSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing chain: %w", err)
		}
		scanner := bufio.NewScanner(f)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = make([]byte, len(scanner.Bytes()))
			copy(lastLine, scanner.Bytes())
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing chain: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &ChainSink{
		path:     path,
		file:     file,
		prevHash: prevHash,
	}, nil
}

// Write appends the batch, chaining each event to its predecessor, and syncs
// once at the end so the whole batch is durable when Write returns.
func (c *ChainSink) Write(events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range events {
		ev := events[i]
		ev.PrevHash = c.prevHash

		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("audit: marshal event: %w", err)
		}
		if _, err := c.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("audit: write event: %w", err)
		}
		c.prevHash = HashLine(line)
	}

	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (c *ChainSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
