package textbook

import (
	"bufio"
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/sahilchouksey/study-textbook-api/utils/response"
	"github.com/sahilchouksey/study-textbook-api/utils/sse"
)

// maxStreamDuration bounds one status stream; clients reconnect after it
const maxStreamDuration = 30 * time.Minute

// StreamStatus handles GET /api/v1/textbooks/:id/status/stream
// Pushes a status event whenever either track changes and a complete event
// once both tracks are settled.
func (h *TextbookHandler) StreamStatus(c *fiber.Ctx) error {
	id, ok := textbookID(c)
	if !ok {
		return response.BadRequest(c, "Invalid textbook ID")
	}

	// Resolve not-found before switching to an event stream
	first, err := h.tracker.GetStatus(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to fetch status")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The fiber context is not valid inside the stream writer
		ctx, cancel := context.WithTimeout(context.Background(), maxStreamDuration)
		defer cancel()

		fetch := func(ctx context.Context) (*services.TextbookStatus, error) {
			return h.tracker.GetStatus(ctx, id)
		}
		if err := writeStatusStream(ctx, w, first, fetch, h.pollInterval); err != nil {
			log.Debugf("[Textbooks] Status stream for %s ended: %v", id, err)
		}
	})

	return nil
}

// writeStatusStream emits status events until both tracks settle. Every
// poll after the first writes a keep-alive, so a disconnected client fails
// the write and ends the loop on the next tick.
func writeStatusStream(ctx context.Context, w *bufio.Writer, first *services.TextbookStatus, fetch services.StatusFetcher, interval time.Duration) error {
	polled := false
	next := func(ctx context.Context) (*services.TextbookStatus, error) {
		if !polled {
			polled = true
			return first, nil
		}
		if err := sse.SendKeepAlive(w); err != nil {
			return nil, err
		}
		return fetch(ctx)
	}

	seq := 0
	final, err := services.PollUntilSettled(ctx, next, interval, func(status *services.TextbookStatus) error {
		seq++
		return sse.SendStatus(w, strconv.Itoa(seq), status)
	})
	if err != nil {
		_ = sse.SendError(w, err)
		return err
	}
	return sse.SendComplete(w, final)
}
