package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/whistle/whistle-server/internal/agent"
	"github.com/whistle/whistle-server/internal/events"
	"go.uber.org/zap"
)

// Stream end conditions.
var (
	ErrStreamEnded  = errors.New("notification stream ended")
	ErrStreamClosed = errors.New("notification stream closed")
)

// Subscribe opens the notification stream for an admin token.
func (c *Client) Subscribe(ctx context.Context, token string) (agent.Stream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	u := c.baseURL + apiPrefix + "/notifications/stream?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to connect to notification stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := readAPIError(resp)
		resp.Body.Close()
		stop()
		cancel()
		return nil, err
	}
	// Only the dial is tied to ctx; afterwards the stream lives until Close.
	stop()

	s := &EventStream{
		ctx:    streamCtx,
		cancel: cancel,
		events: make(chan events.Event),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go s.readLoop(resp.Body)
	return s, nil
}

// EventStream reads server-sent events from one open response.
type EventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan events.Event
	done   chan struct{}
	err    error // set before done is closed
	logger *zap.SugaredLogger

	closeOnce sync.Once
}

// Next returns the next event in stream order.
func (s *EventStream) Next(ctx context.Context) (events.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the stream and waits for the reader to stop.
func (s *EventStream) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

// readLoop reads SSE frames from the response body.
func (s *EventStream) readLoop(body io.ReadCloser) {
	defer close(s.done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// End of event
			if data.Len() == 0 {
				continue
			}
			ev, err := events.Decode(data.Bytes())
			data.Reset()
			if err != nil {
				s.logger.Warnw("Ignoring malformed notification", "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				s.err = ErrStreamClosed
				return
			}
			continue
		}

		if v, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(v, " "))
		}
		// Comments, event names, ids and retry hints are not used.
	}

	switch {
	case s.ctx.Err() != nil:
		s.err = ErrStreamClosed
	case scanner.Err() != nil:
		s.err = fmt.Errorf("read notification stream: %w", scanner.Err())
	default:
		s.err = ErrStreamEnded
	}
}
