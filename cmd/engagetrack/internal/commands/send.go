package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wolfeidau/engagetrack/internal/protocol"
)

type SendCmd struct {
	Server  string        `help:"Coordinator URL" default:"http://127.0.0.1:8765" env:"ENGAGETRACK_SERVER"`
	Type    string        `arg:"" help:"Message type, e.g. GET_TRACKING_STATUS"`
	Payload string        `help:"JSON payload" default:""`
	Timeout time.Duration `help:"Request timeout" default:"30s"`

	out io.Writer
}

func (s *SendCmd) Run(ctx context.Context, globals *Globals) error {
	msg := protocol.Message{Type: protocol.MessageType(strings.ToUpper(s.Type))}
	if s.Payload != "" {
		if !json.Valid([]byte(s.Payload)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		msg.Payload = json.RawMessage(s.Payload)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.Server, "/")+"/rpc?context=popup", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		out.Write(data)
	}
	w := s.out
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w, strings.TrimSpace(out.String()))

	return nil
}
