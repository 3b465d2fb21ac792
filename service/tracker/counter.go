package tracker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Counter reads the current value of a named resource counter.
type Counter interface {
	Name() string
	Read(ctx context.Context) (int64, error)
}

// FileCounter reads a counter exported through a file, typically under
// /proc or /sys. With an empty Field the whole file must be one integer;
// otherwise the line whose first token is Field (with or without a trailing
// colon) provides the value.
type FileCounter struct {
	Path  string
	Field string
}

func (c *FileCounter) Name() string {
	if c.Field == "" {
		return c.Path
	}
	return c.Path + "#" + c.Field
}

// Read parses the counter. The file is read with os.ReadFile: opening a
// missing sysfs path must not create its parent directories.
func (c *FileCounter) Read(_ context.Context) (int64, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return 0, err
	}
	if c.Field == "" {
		return parseInt(string(bytes.TrimSpace(data)))
	}
	value, ok, err := lookupField(data, c.Field, 1)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("field %q not found in %s", c.Field, c.Path)
	}
	return value, nil
}

// SlabCounter reports the active object count of a slab cache from
// /proc/slabinfo, which captures kmem_cache allocations of a module.
type SlabCounter struct {
	Cache string
	Path  string
}

func (c *SlabCounter) Name() string { return "slab:" + c.Cache }

func (c *SlabCounter) Read(_ context.Context) (int64, error) {
	path := c.Path
	if path == "" {
		path = "/proc/slabinfo"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value, ok, err := lookupField(data, c.Cache, 1)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("slab cache %q not found", c.Cache)
	}
	return value, nil
}

// FuncCounter adapts a function, for counters computed by the test itself.
type FuncCounter struct {
	Label string
	Fn    func(ctx context.Context) (int64, error)
}

func (c *FuncCounter) Name() string { return c.Label }

func (c *FuncCounter) Read(ctx context.Context) (int64, error) { return c.Fn(ctx) }

func lookupField(data []byte, field string, column int) (int64, bool, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) <= column || strings.TrimSuffix(tokens[0], ":") != field {
			continue
		}
		value, err := parseInt(tokens[column])
		return value, true, err
	}
	return 0, false, scanner.Err()
}

func parseInt(text string) (int64, error) {
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value %q: %w", text, err)
	}
	return value, nil
}
