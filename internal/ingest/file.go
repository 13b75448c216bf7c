package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/convograph/convograph/internal/event"
)

// ReplayFile feeds a JSONL event log through the pipeline, one event per
// line. Blank lines are skipped; an undecodable line aborts with its line
// number. Returns the number of events handled.
func ReplayFile(ctx context.Context, path string, p *Pipeline) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	handled := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e event.InteractionEvent
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return handled, fmt.Errorf("line %d: %w", line, err)
		}
		if err := p.Handle(ctx, &e); err != nil {
			return handled, fmt.Errorf("line %d: %w", line, err)
		}
		handled++
	}
	if err := scanner.Err(); err != nil {
		return handled, fmt.Errorf("read event log: %w", err)
	}
	return handled, nil
}
