package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"example.com/h2resp/internal/config"
	"example.com/h2resp/internal/http2"
	"example.com/h2resp/internal/logger"
	"example.com/h2resp/internal/metrics"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const (
	formatText  = "text"
	formatHpack = "hpack"
)

// responseJSON is the JSON shape of a response on the command line.
type responseJSON struct {
	Proto   string              `json:"proto,omitempty"`
	Status  int                 `json:"status"`
	Headers []http2.HeaderField `json:"headers"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command and returns its exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("h2conv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFilePath := fs.String("config", "", "Path to the configuration file (JSON, TOML or YAML)")
	format := fs.String("format", formatText, "Header block format: text or hpack (hex)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: h2conv [-config file] [-format text|hpack] decode|encode [file]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return exitUsage
	}
	mode := fs.Arg(0)
	if mode != "decode" && mode != "encode" {
		fmt.Fprintf(stderr, "Error: unknown command %q\n", mode)
		fs.Usage()
		return exitUsage
	}
	if *format != formatText && *format != formatHpack {
		fmt.Fprintf(stderr, "Error: unknown format %q\n", *format)
		fs.Usage()
		return exitUsage
	}

	cfg := config.Default()
	if *configFilePath != "" {
		var err error
		cfg, err = config.LoadConfig(*configFilePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	}

	lg, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize logger: %v\n", err)
		return exitError
	}
	defer lg.CloseLogFiles()

	input := stdin
	if fs.NArg() == 2 {
		f, err := os.Open(fs.Arg(1))
		if err != nil {
			lg.Error("Failed to open input file", logger.LogFields{"path": fs.Arg(1), "error": err.Error()})
			return exitError
		}
		defer f.Close()
		input = f
	}

	opts := []http2.CodecOption{
		http2.WithLogger(lg),
		http2.WithMaxStringLength(*cfg.Hpack.MaxStringLength),
	}
	var registry *prometheus.Registry
	if *cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		rec, err := metrics.NewRecorder(registry, cfg.Metrics.Namespace)
		if err != nil {
			lg.Error("Failed to register metrics", logger.LogFields{"error": err.Error()})
			return exitError
		}
		opts = append(opts, http2.WithMetrics(rec))
	}
	codec := http2.NewResponseCodec(http2.DefaultResponseConverter, *cfg.Hpack.MaxTableSize, opts...)

	if mode == "decode" {
		err = decode(codec, *format, input, stdout)
	} else {
		err = encode(codec, *format, input, stdout)
	}
	if registry != nil && cfg.Metrics.Output != "" {
		if mErr := writeMetrics(registry, cfg.Metrics.Output, stdout, stderr); mErr != nil {
			lg.Error("Failed to write metrics", logger.LogFields{"target": cfg.Metrics.Output, "error": mErr.Error()})
		}
	}
	if err != nil {
		lg.Error("Conversion failed", logger.LogFields{"command": mode, "error": err.Error()})
		return exitError
	}
	return exitOK
}

// newLogger builds the logger, sending the standard-stream targets to the
// writers run was given.
func newLogger(cfg *config.LoggingConfig, stderr io.Writer) (*logger.Logger, error) {
	if cfg.Target == "stderr" {
		return logger.New(stderr, cfg.LogLevel), nil
	}
	return logger.NewLogger(cfg)
}

// decode reads header blocks from r and writes each decoded response as JSON.
func decode(codec *http2.ResponseCodec, format string, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	emit := func(resp *http2.Response) error {
		out := responseJSON{Proto: resp.Proto, Status: resp.StatusCode, Headers: resp.Headers()}
		if out.Headers == nil {
			out.Headers = []http2.HeaderField{}
		}
		return enc.Encode(out)
	}

	streamID := uint32(1)
	if format == formatHpack {
		blocks, err := readHexBlocks(r)
		if err != nil {
			return err
		}
		for _, block := range blocks {
			resp, err := codec.DecodeBlock(streamID, block)
			if err != nil {
				return err
			}
			if err := emit(resp); err != nil {
				return err
			}
			streamID += 2
		}
		return nil
	}

	blocks, err := readTextBlocks(r)
	if err != nil {
		return err
	}
	for _, headers := range blocks {
		resp, err := codec.DecodeHeaders(streamID, headers)
		if err != nil {
			return err
		}
		if err := emit(resp); err != nil {
			return err
		}
		streamID += 2
	}
	return nil
}

// encode reads JSON responses from r and writes each as a header block.
func encode(codec *http2.ResponseCodec, format string, r io.Reader, w io.Writer) error {
	responses, err := readResponses(r)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	streamID := uint32(1)
	for i, rj := range responses {
		resp := &http2.Response{Proto: http2.ProtoHTTP2, StatusCode: rj.Status, Header: rj.Headers}
		if format == formatHpack {
			block, err := codec.EncodeBlock(streamID, resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(bw, hex.EncodeToString(block))
		} else {
			headers, err := codec.EncodeHeaders(streamID, resp)
			if err != nil {
				return err
			}
			if i > 0 {
				fmt.Fprintln(bw)
			}
			for _, hf := range headers {
				fmt.Fprintln(bw, hf.String())
			}
		}
		streamID += 2
	}
	return bw.Flush()
}

// readTextBlocks parses "name: value" lines into header blocks separated by
// blank lines. Lines starting with '#' are ignored.
func readTextBlocks(r io.Reader) ([][]http2.HeaderField, error) {
	var (
		blocks  [][]http2.HeaderField
		current []http2.HeaderField
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			if current != nil {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		hf, err := parseHeaderLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		current = append(current, hf)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read header blocks: %w", err)
	}
	if current != nil {
		blocks = append(blocks, current)
	}
	if len(blocks) == 0 {
		return nil, errors.New("no header blocks in input")
	}
	return blocks, nil
}

// parseHeaderLine splits "name: value". The separator search skips the
// leading colon of a pseudo-header name.
func parseHeaderLine(line string) (http2.HeaderField, error) {
	start := 0
	if strings.HasPrefix(line, http2.PseudoHeaderPrefix) {
		start = 1
	}
	idx := strings.Index(line[start:], ":")
	if idx < 0 {
		return http2.HeaderField{}, fmt.Errorf("malformed header line %q (expected 'name: value')", line)
	}
	idx += start
	return http2.HeaderField{
		Name:  line[:idx],
		Value: strings.TrimSpace(line[idx+1:]),
	}, nil
}

// readHexBlocks reads one hex-encoded HPACK block per non-empty line.
func readHexBlocks(r io.Reader) ([][]byte, error) {
	var blocks [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.Join(strings.Fields(scanner.Text()), "")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		block, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid hex header block: %w", lineNo, err)
		}
		blocks = append(blocks, block)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read header blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, errors.New("no header blocks in input")
	}
	return blocks, nil
}

// readResponses accepts a single JSON response object or an array of them.
func readResponses(r io.Reader) ([]responseJSON, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no responses in input")
	}
	if data[0] == '[' {
		var responses []responseJSON
		if err := json.Unmarshal(data, &responses); err != nil {
			return nil, fmt.Errorf("failed to parse responses: %w", err)
		}
		return responses, nil
	}
	var single responseJSON
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return []responseJSON{single}, nil
}

// writeMetrics writes the gathered counters in Prometheus text format.
func writeMetrics(registry *prometheus.Registry, target string, stdout, stderr io.Writer) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	var w io.Writer
	switch target {
	case "stdout":
		w = stdout
	case "stderr":
		w = stderr
	default:
		f, err := os.Create(target)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
