package colmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"colabsfm/internal/logging"
	"colabsfm/internal/services"
)

// Subcommands invoked by the pipeline.
const (
	FeatureExtractor  = "feature_extractor"
	ExhaustiveMatcher = "exhaustive_matcher"
	Mapper            = "mapper"
)

const tailLines = 20

// Executor abstracts command execution for testability. Implementations
// call onOutput once per line of combined output and never concurrently.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger routes tool output to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "colmap")
	}
}

// Client wraps colmap CLI interactions.
type Client struct {
	binary     string
	cameraType string
	exec       Executor
	logger     *slog.Logger
}

// New constructs a colmap client. cameraType is passed verbatim to
// feature_extractor's --type flag.
func New(binary, cameraType string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("colmap binary required")
	}
	client := &Client{
		binary:     binary,
		cameraType: strings.TrimSpace(cameraType),
		exec:       commandExecutor{},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binary returns the configured executable.
func (c *Client) Binary() string {
	return c.binary
}

// FeatureExtractorArgs returns the argument vector for feature extraction.
func (c *Client) FeatureExtractorArgs(database, images string) []string {
	return []string{FeatureExtractor, "--database_path", database, "--image_path", images, "--type", c.cameraType}
}

// ExhaustiveMatcherArgs returns the argument vector for exhaustive matching.
func ExhaustiveMatcherArgs(database string) []string {
	return []string{ExhaustiveMatcher, "--database_path", database}
}

// MapperArgs returns the argument vector for sparse mapping.
func MapperArgs(database, images, output string) []string {
	return []string{Mapper, "--database_path", database, "--image_path", images, "--output_path", output}
}

// ExtractFeatures runs feature_extractor against database and images.
func (c *Client) ExtractFeatures(ctx context.Context, database, images string) error {
	return c.run(ctx, c.FeatureExtractorArgs(database, images))
}

// MatchExhaustive runs exhaustive_matcher against database.
func (c *Client) MatchExhaustive(ctx context.Context, database string) error {
	return c.run(ctx, ExhaustiveMatcherArgs(database))
}

// Map runs mapper, writing the sparse model under output.
func (c *Client) Map(ctx context.Context, database, images, output string) error {
	return c.run(ctx, MapperArgs(database, images, output))
}

func (c *Client) run(ctx context.Context, args []string) error {
	subcommand := args[0]
	logger := logging.WithContext(ctx, c.logger).With(logging.String("subcommand", subcommand))
	tail := newTail(tailLines)
	logger.Info("colmap started", logging.String("args", strings.Join(args, " ")))

	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		tail.add(line)
		logger.Debug(line)
	})
	if err != nil {
		detail := "command failed"
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		if lines := tail.String(); lines != "" {
			detail += ": " + lines
		}
		return services.Wrap(services.ErrExternalProcess, "colmap", subcommand, detail, err)
	}
	logger.Info("colmap finished")
	return nil
}

type tail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once
	var emit sync.Mutex

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onOutput != nil {
				emit.Lock()
				onOutput(scanner.Text())
				emit.Unlock()
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
