package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	// last is the newest snapshot delivered to this client. Only Run touches it.
	last *model.Snapshot
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	log logger.Logger
}

// BroadcastMessage is one job snapshot and its encoded message
type BroadcastMessage struct {
	JobID    string
	Snapshot model.Snapshot
	Message  []byte
}

// NewHub creates a new Hub
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        logger.WithComponent(log, "websocket"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.log.Debug().Str("job_id", client.JobID).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.log.Debug().Str("job_id", client.JobID).Msg("client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients[msg.JobID] {
				h.deliver(client, msg)
			}
		}
	}
}

// deliver sends msg unless the client already saw a newer snapshot.
func (h *Hub) deliver(client *Client, msg *BroadcastMessage) {
	if client.last != nil && !model.AcceptUpdate(*client.last, msg.Snapshot) {
		return
	}
	select {
	case client.Send <- msg.Message:
		snap := msg.Snapshot
		client.last = &snap
	default:
		// Slow consumer.
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Publish broadcasts a job snapshot to its subscribers. It never blocks; when
// the hub is saturated the update is dropped and the job record stays the
// source of truth.
func (h *Hub) Publish(job *model.Job) {
	data, err := json.Marshal(Message(job))
	if err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to marshal job message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: job.ID, Snapshot: job.Snapshot(), Message: data}:
	default:
		h.log.Warn().Str("job_id", job.ID).Msg("broadcast queue full, dropping update")
	}
}

// Message picks the message type that describes job.
func Message(job *model.Job) interface{} {
	switch job.Status {
	case model.JobStatusDone:
		out := ""
		if job.OutputURL != nil {
			out = *job.OutputURL
		}
		return model.WSCompleteMessage{
			Type:      model.WSMessageTypeComplete,
			JobID:     job.ID,
			OutputURL: out,
		}
	case model.JobStatusError:
		msg := job.Message
		if job.Error != nil {
			msg = *job.Error
		}
		return model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: job.ID,
			Error: model.WSError{Code: "JOB_FAILED", Message: msg},
		}
	default:
		return model.WSProgressMessage{
			Type:           model.WSMessageTypeProgress,
			JobID:          job.ID,
			Progress:       job.Progress,
			Status:         job.Status,
			Message:        job.Message,
			TotalShots:     job.TotalShots,
			CompletedShots: job.CompletedShots,
		}
	}
}

// HandleConnection handles a WebSocket connection. current, when set, is sent
// first so the client starts from the stored state.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, current *model.Job) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	if current != nil {
		if data, err := json.Marshal(Message(current)); err == nil {
			client.Send <- data
			snap := current.Snapshot()
			client.last = &snap
		}
	}

	h.Register(client)
	defer h.Unregister(client)

	pongs := make(chan []byte, 1)
	done := make(chan struct{})
	defer close(done)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case message := <-pongs:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("job_id", jobID).Msg("websocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case pongs <- data:
			default:
			}
		}
	}
}
