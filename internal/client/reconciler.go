package client

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"securechat/internal/codec"
	"securechat/internal/models"
)

// TypingTTL is how long a typing indicator stays lit without a
// refresh.
const TypingTTL = 2 * time.Second

// HistoryFetcher loads the persisted message history of a group,
// ciphertext as stored, ascending by creation time.
type HistoryFetcher interface {
	GroupMessages(ctx context.Context, groupID string) ([]models.Message, error)
}

// ReadMarker persists a read receipt.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// RoomControl is the slice of the Connector the reconciler drives
// when the active group changes.
type RoomControl interface {
	Join(groupID string) error
	Leave(groupID string) error
}

// Reconciler merges persisted history with live transport events into
// an ordered, deduplicated view of the active group, and buffers
// unread messages per background group. Merges are idempotent: the
// dedup key for everything is the message identifier.
type Reconciler struct {
	self    string
	codec   *codec.Codec
	history HistoryFetcher
	marker  ReadMarker
	rooms   RoomControl
	logger  *slog.Logger

	mu            sync.Mutex
	activeGroupID string
	visible       []models.Message
	unread        map[string][]models.Message
	typing        map[string]map[string]*time.Timer
}

func NewReconciler(self string, c *codec.Codec, history HistoryFetcher, marker ReadMarker, rooms RoomControl, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		self:    self,
		codec:   c,
		history: history,
		marker:  marker,
		rooms:   rooms,
		logger:  logger,
		unread:  make(map[string][]models.Message),
		typing:  make(map[string]map[string]*time.Timer),
	}
}

func (r *Reconciler) ActiveGroup() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeGroupID
}

// Visible returns a copy of the ordered message view for the active
// group.
func (r *Reconciler) Visible() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.visible))
	copy(out, r.visible)
	return out
}

func (r *Reconciler) UnreadCount(groupID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unread[groupID])
}

// SetActiveGroup switches the view: flushes the group's unread queue
// (marking those messages read locally and through the persistence
// path), replaces the visible view with the fetched history sorted
// ascending by creation time, and moves the room subscription from
// the previously active group.
func (r *Reconciler) SetActiveGroup(ctx context.Context, groupID string) error {
	r.mu.Lock()
	previous := r.activeGroupID
	queued := r.unread[groupID]
	delete(r.unread, groupID)
	r.mu.Unlock()

	r.persistReads(ctx, queued)

	messages, err := r.history.GroupMessages(ctx, groupID)
	if err != nil {
		return fmt.Errorf("fetch history for group %s: %w", groupID, err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	for i := range messages {
		messages[i].Content = r.codec.DecryptLenient(messages[i].Content)
	}

	// Live messages can race the history fetch: while it was in flight
	// the group was still background, so arrivals were queued as
	// unread. Drain them into the view; the group must never become
	// active with a non-empty unread queue.
	r.mu.Lock()
	r.activeGroupID = groupID
	r.visible = messages
	late := r.unread[groupID]
	delete(r.unread, groupID)
	for i := range late {
		late[i].MarkReadBy(r.self)
		r.insertVisible(late[i])
	}
	r.mu.Unlock()

	r.persistReads(ctx, late)

	if err := r.rooms.Join(groupID); err != nil {
		r.logger.Warn("failed to join room", "groupID", groupID, "error", err)
	}
	if previous != "" && previous != groupID {
		if err := r.rooms.Leave(previous); err != nil {
			r.logger.Warn("failed to leave room", "groupID", previous, "error", err)
		}
	}

	return nil
}

// persistReads reports each message in the batch as read. Persistence
// failures are logged and skipped; the local view already treats the
// batch as read.
func (r *Reconciler) persistReads(ctx context.Context, batch []models.Message) {
	for i := range batch {
		if err := r.marker.MarkRead(ctx, batch[i].ID); err != nil {
			r.logger.Warn("failed to persist read receipt on flush",
				"messageID", batch[i].ID, "error", err)
		}
	}
}

// OnLiveMessage classifies a live broadcast. Messages from self are
// ignored (they were inserted locally at send time); messages for the
// active group are merged into the visible view in creation-time
// order; everything else queues as unread. Applying the same event
// twice leaves the state unchanged.
func (r *Reconciler) OnLiveMessage(msg models.Message) {
	if msg.SenderID == r.self {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.GroupID == r.activeGroupID {
		r.insertVisible(msg)
		return
	}

	for _, queued := range r.unread[msg.GroupID] {
		if queued.ID == msg.ID {
			return
		}
	}
	r.unread[msg.GroupID] = append(r.unread[msg.GroupID], msg)
}

// insertVisible places msg at the position keeping ascending
// creation-time order, skipping the insert when the identifier is
// already present. Caller holds r.mu.
func (r *Reconciler) insertVisible(msg models.Message) {
	for _, existing := range r.visible {
		if existing.ID == msg.ID {
			return
		}
	}

	idx := sort.Search(len(r.visible), func(i int) bool {
		return r.visible[i].CreatedAt.After(msg.CreatedAt)
	})

	r.visible = append(r.visible, models.Message{})
	copy(r.visible[idx+1:], r.visible[idx:])
	r.visible[idx] = msg
}

// OnReadReceipt records userID as a reader of the message wherever it
// currently lives. Idempotent.
func (r *Reconciler) OnReadReceipt(messageID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.visible {
		if r.visible[i].ID == messageID {
			r.visible[i].MarkReadBy(userID)
		}
	}
	for groupID := range r.unread {
		queue := r.unread[groupID]
		for i := range queue {
			if queue[i].ID == messageID {
				queue[i].MarkReadBy(userID)
			}
		}
	}
}

// OnTyping lights the typing indicator for (groupID, userID) and arms
// its expiry; a repeated event pushes the expiry out.
func (r *Reconciler) OnTyping(groupID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.typing[groupID] == nil {
		r.typing[groupID] = make(map[string]*time.Timer)
	}

	if timer, ok := r.typing[groupID][userID]; ok {
		timer.Reset(TypingTTL)
		return
	}

	r.typing[groupID][userID] = time.AfterFunc(TypingTTL, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.typing[groupID], userID)
		if len(r.typing[groupID]) == 0 {
			delete(r.typing, groupID)
		}
	})
}

// TypingUsers lists users currently typing in the group, sorted for
// stable output.
func (r *Reconciler) TypingUsers(groupID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.typing[groupID]))
	for userID := range r.typing[groupID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// InsertLocal puts the sender's own just-persisted message into the
// visible view. The later live broadcast of the same message is
// discarded by OnLiveMessage's self check.
func (r *Reconciler) InsertLocal(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.GroupID == r.activeGroupID {
		r.insertVisible(msg)
	}
}
