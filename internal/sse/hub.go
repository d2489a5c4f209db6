package sse

import (
  "context"
  "encoding/json"
  "fmt"
  "net/http"
  "strings"
  "sync"
  "time"

  "github.com/google/uuid"

  "github.com/fenwick-ai/ragchat-core/internal/modules/chat/steps"
  "github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

// SSEMessage is one event frame. For every event the answer orchestrator
// emits, Channel is a turn ID's string form, scoped to a single in-flight
// turn (§4.7), unlike the teacher's user-scoped broadcast channels.
// steps.TitleChat emits ChatTitleUpdate with the chat ID's string form as
// Channel; handlers subscribe clients only to turn IDs, so no client
// receives that event.
type SSEMessage struct {
  Channel string        `json:"channel"`
  Event   steps.SSEEvent `json:"event"`
  Data    any           `json:"data,omitempty"`
}

type SSEClient struct {
  ID       uuid.UUID
  UserID   uuid.UUID
  Channels map[string]bool
  Outbound chan SSEMessage
  done     chan struct{}
  Logger   *logger.Logger
}

// SSEHub fans SSE events out to HTTP clients subscribed by turn ID. It
// implements steps.Emitter so the answer orchestrator can push events
// without knowing about HTTP at all.
type SSEHub struct {
  mu            sync.RWMutex
  logger        *logger.Logger
  subscriptions map[string]map[*SSEClient]bool
  bus           Bus
}

func NewSSEHub(log *logger.Logger) *SSEHub {
  return &SSEHub{
    logger:        log.With("component", "SSEHub"),
    subscriptions: make(map[string]map[*SSEClient]bool),
  }
}

// WithBus attaches a cross-replica Bus: Emit then publishes to the bus in
// addition to broadcasting locally, and the bus's forwarder feeds back into
// Broadcast so messages published by other replicas reach local clients.
func (hub *SSEHub) WithBus(ctx context.Context, bus Bus) *SSEHub {
  hub.bus = bus
  if bus != nil {
    _ = bus.StartForwarder(ctx, hub.Broadcast)
  }
  return hub
}

func (hub *SSEHub) NewSSEClient(userID uuid.UUID) *SSEClient {
  id := uuid.New()
  return &SSEClient{
    ID:       id,
    UserID:   userID,
    Channels: make(map[string]bool),
    Outbound: make(chan SSEMessage, 16),
    done:     make(chan struct{}),
    Logger:   hub.logger.With("clientID", id),
  }
}

func (hub *SSEHub) AddChannel(client *SSEClient, channel string) {
  hub.mu.Lock()
  defer hub.mu.Unlock()

  channel = strings.TrimSpace(channel)
  if channel == "" {
    return
  }

  client.Channels[channel] = true

  clients, exists := hub.subscriptions[channel]
  if !exists {
    clients = make(map[*SSEClient]bool)
    hub.subscriptions[channel] = clients
  }
  clients[client] = true

  hub.logger.Debug("SSE client subscribed", "clientID", client.ID, "channel", channel)
}

func (hub *SSEHub) RemoveChannel(client *SSEClient, channel string) {
  hub.mu.Lock()
  defer hub.mu.Unlock()

  channel = strings.TrimSpace(channel)
  if channel == "" {
    return
  }
  delete(client.Channels, channel)

  if subMap, ok := hub.subscriptions[channel]; ok {
    delete(subMap, client)
    if len(subMap) == 0 {
      delete(hub.subscriptions, channel)
    }
  }
  hub.logger.Debug("SSE client unsubscribed from channel", "clientID", client.ID, "channel", channel)
}

func (hub *SSEHub) RemoveClient(client *SSEClient) {
  hub.mu.Lock()
  defer hub.mu.Unlock()

  for ch := range client.Channels {
    if subMap, ok := hub.subscriptions[ch]; ok {
      delete(subMap, client)
      if len(subMap) == 0 {
        delete(hub.subscriptions, ch)
      }
    }
  }
  client.Channels = make(map[string]bool)
  hub.logger.Debug("SSE client unsubscribed from all channels", "clientID", client.ID)
}

func (hub *SSEHub) Broadcast(msg SSEMessage) {
  hub.mu.RLock()
  defer hub.mu.RUnlock()

  if msg.Channel == "" {
    return
  }
  clientsMap, ok := hub.subscriptions[msg.Channel]
  if !ok {
    return
  }
  for c := range clientsMap {
    select {
    case c.Outbound <- msg:
    default:
      hub.logger.Warn("Dropping SSE message; outbound buffer full", "clientID", c.ID)
    }
  }
}

// Emit implements steps.Emitter: the answer orchestrator calls this per
// event, keyed by the turn's own ID as the channel, so a client only ever
// needs to subscribe to the one turn it's watching.
func (hub *SSEHub) Emit(ctx context.Context, turnID uuid.UUID, event steps.SSEEvent, data any) {
  msg := SSEMessage{Channel: turnID.String(), Event: event, Data: data}
  hub.Broadcast(msg)
  if hub.bus != nil {
    if err := hub.bus.Publish(ctx, msg); err != nil {
      hub.logger.Warn("failed to publish SSE message to bus", "error", err)
    }
  }
}

func (hub *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *SSEClient) {
  w.Header().Set("Content-Type", "text/event-stream")
  w.Header().Set("Cache-Control", "no-cache")
  w.Header().Set("Connection", "keep-alive")
  w.Header().Set("Transfer-Encoding", "chunked")
  w.Header().Set("X-Accel-Buffering", "no")

  flusher, ok := w.(http.Flusher)
  if !ok {
    http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
    return
  }
  ctx := r.Context()

  heartbeat := time.NewTicker(15 * time.Second)
  defer heartbeat.Stop()

  for {
    select {
    case <-ctx.Done():
      hub.logger.Debug("SSE client context done", "clientID", client.ID, "err", ctx.Err())
      return
    case <-client.done:
      return
    case <-heartbeat.C:
      const pingChunkedSize = 8*1024 - len(": ping \n\n")
      fmt.Fprint(w, ": ping "+strings.Repeat("#", pingChunkedSize)+"\n\n")
      flusher.Flush()
    case msg, ok := <-client.Outbound:
      if !ok {
        return
      }
      _, _ = fmt.Fprintf(w, "event: %s\n", msg.Event)
      jsonBytes, err := json.Marshal(msg)
      if err != nil {
        hub.logger.Warn("Failed to marshal SSE message", "error", err)
        continue
      }
      _, _ = fmt.Fprintf(w, "data: %s\n\n", string(jsonBytes))
      flusher.Flush()
      if msg.Event == steps.EventEnd || msg.Event == steps.EventError {
        return
      }
    }
  }
}

func (hub *SSEHub) CloseClient(client *SSEClient) {
  hub.RemoveClient(client)
  close(client.done)
  close(client.Outbound)
}
