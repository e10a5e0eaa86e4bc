package ws

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/google/uuid"
)

type userList struct {
	self  domain.User
	byID  map[domain.UserID]domain.User
	order []domain.UserID
}

var _ ports.UserList = (*userList)(nil)

func newUserList(selfID string, payloads []userPayload) *userList {
	users := &userList{byID: make(map[domain.UserID]domain.User, len(payloads))}
	for _, p := range payloads {
		user := p.toDomain(selfID)
		if _, seen := users.byID[user.ID]; !seen {
			users.order = append(users.order, user.ID)
		}
		users.byID[user.ID] = user
	}
	if self, ok := users.byID[domain.UserID(selfID)]; ok {
		users.self = self
	} else {
		users.self = domain.User{ID: domain.UserID(selfID), IsSelf: true}
	}
	return users
}

func (l *userList) Self() domain.User { return l.self }

func (l *userList) User(id domain.UserID) (domain.User, bool) {
	user, ok := l.byID[id]
	return user, ok
}

func (l *userList) All() []domain.User {
	out := make([]domain.User, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

type conversationList struct {
	client *Client
	users  *userList

	mu    sync.RWMutex
	convs map[domain.ConversationID]*conversation

	onEvent     observer.Event[domain.Event]
	onTyping    observer.Event[domain.Typing]
	onWatermark observer.Event[domain.Watermark]
}

var _ ports.ConversationList = (*conversationList)(nil)

func newConversationList(client *Client, users *userList, payloads []conversationPayload) *conversationList {
	list := &conversationList{
		client: client,
		users:  users,
		convs:  make(map[domain.ConversationID]*conversation, len(payloads)),
	}
	for _, p := range payloads {
		list.upsert(p)
	}
	return list
}

func (l *conversationList) OnEvent() *observer.Event[domain.Event]         { return &l.onEvent }
func (l *conversationList) OnTyping() *observer.Event[domain.Typing]       { return &l.onTyping }
func (l *conversationList) OnWatermark() *observer.Event[domain.Watermark] { return &l.onWatermark }

func (l *conversationList) All(includeArchived bool) []ports.Conversation {
	l.mu.RLock()
	convs := make([]*conversation, 0, len(l.convs))
	for _, conv := range l.convs {
		if includeArchived || !conv.IsArchived() {
			convs = append(convs, conv)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastModified(), convs[j].LastModified()
		if a.Equal(b) {
			return convs[i].id < convs[j].id
		}
		return a.After(b)
	})

	out := make([]ports.Conversation, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conv)
	}
	return out
}

func (l *conversationList) Get(id domain.ConversationID) (ports.Conversation, error) {
	conv, ok := l.lookup(id)
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return conv, nil
}

func (l *conversationList) Leave(ctx context.Context, id domain.ConversationID) error {
	conv, ok := l.lookup(id)
	if !ok {
		return domain.ErrConversationNotFound
	}
	return conv.Leave(ctx)
}

func (l *conversationList) lookup(id domain.ConversationID) (*conversation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	conv, ok := l.convs[id]
	return conv, ok
}

func (l *conversationList) remove(id domain.ConversationID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.convs, id)
}

// upsert replaces the name, members and flags of a known conversation. Events, read
// state and observers are merged or kept.
func (l *conversationList) upsert(p conversationPayload) {
	id := domain.ConversationID(p.ID)

	l.mu.Lock()
	conv, ok := l.convs[id]
	if !ok {
		conv = &conversation{client: l.client, list: l, id: id, selfID: l.users.self.ID}
		l.convs[id] = conv
	}
	l.mu.Unlock()

	conv.reset(p, l.users)
}

func (l *conversationList) applyEvent(event domain.Event) {
	conv, ok := l.lookup(event.ConversationID)
	if !ok {
		l.client.log.Debug().Str("conversation", string(event.ConversationID)).Msg("event for unknown conversation")
		return
	}
	if !conv.addEvents(event) {
		return
	}
	conv.onEvent.Fire(event)
	l.onEvent.Fire(event)
}

func (l *conversationList) applyTyping(typing domain.Typing) {
	conv, ok := l.lookup(typing.ConversationID)
	if !ok {
		return
	}
	conv.onTyping.Fire(typing)
	l.onTyping.Fire(typing)
}

func (l *conversationList) applyWatermark(watermark domain.Watermark) {
	conv, ok := l.lookup(watermark.ConversationID)
	if !ok {
		return
	}
	conv.setWatermark(watermark)
	conv.onWatermark.Fire(watermark)
	l.onWatermark.Fire(watermark)
}

type conversation struct {
	client *Client
	list   *conversationList
	id     domain.ConversationID
	selfID domain.UserID

	mu           sync.RWMutex
	name         string
	users        []domain.User
	lastModified time.Time
	latestRead   time.Time
	events       []domain.Event
	watermarks   map[domain.UserID]domain.Watermark
	archived     bool
	quiet        bool
	offTheRecord bool

	onEvent     observer.Event[domain.Event]
	onTyping    observer.Event[domain.Typing]
	onWatermark observer.Event[domain.Watermark]
}

var _ ports.Conversation = (*conversation)(nil)

func (c *conversation) reset(p conversationPayload, users *userList) {
	members := make([]domain.User, 0, len(p.Participants))
	for _, id := range p.Participants {
		user, ok := users.User(domain.UserID(id))
		if !ok {
			user = domain.User{ID: domain.UserID(id), IsSelf: domain.UserID(id) == c.selfID}
		}
		members = append(members, user)
	}

	c.mu.Lock()
	c.name = p.Name
	c.users = members
	c.archived = p.Archived
	c.quiet = p.Quiet
	c.offTheRecord = p.OffTheRecord
	if p.LastModified.After(c.lastModified) {
		c.lastModified = p.LastModified
	}
	if p.LatestRead.After(c.latestRead) {
		c.latestRead = p.LatestRead
	}
	c.mu.Unlock()

	for _, w := range p.Watermarks {
		c.mergeWatermark(w.toDomain())
	}
	c.addEvents(eventsToDomain(p.Events)...)
}

func (c *conversation) OnEvent() *observer.Event[domain.Event]         { return &c.onEvent }
func (c *conversation) OnTyping() *observer.Event[domain.Typing]       { return &c.onTyping }
func (c *conversation) OnWatermark() *observer.Event[domain.Watermark] { return &c.onWatermark }

func (c *conversation) ID() domain.ConversationID { return c.id }

func (c *conversation) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *conversation) Users() []domain.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.users)
}

func (c *conversation) User(id domain.UserID) (domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, user := range c.users {
		if user.ID == id {
			return user, true
		}
	}
	return domain.User{}, false
}

func (c *conversation) LastModified() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastModified
}

func (c *conversation) LatestReadTimestamp() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestRead
}

func (c *conversation) Events() []domain.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.events)
}

func (c *conversation) Event(id domain.EventID) (domain.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.events[i], true
	}
	return domain.Event{}, false
}

func (c *conversation) NextEvent(id domain.EventID, prev bool) (domain.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return domain.Event{}, false
	}
	if prev {
		i--
	} else {
		i++
	}
	if i < 0 || i >= len(c.events) {
		return domain.Event{}, false
	}
	return c.events[i], true
}

func (c *conversation) Watermarks() []domain.Watermark {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Watermark, 0, len(c.watermarks))
	for _, w := range c.watermarks {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// UnreadEvents are events from other users newer than the latest read timestamp.
func (c *conversation) UnreadEvents() []domain.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var unread []domain.Event
	for _, event := range c.events {
		if event.UserID != c.selfID && event.Timestamp.After(c.latestRead) {
			unread = append(unread, event)
		}
	}
	return unread
}

func (c *conversation) IsArchived() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.archived
}

func (c *conversation) IsQuiet() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quiet
}

func (c *conversation) IsOffTheRecord() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offTheRecord
}

func (c *conversation) SendMessage(ctx context.Context, segments []domain.Segment, image *domain.UploadedImage) error {
	req := sendMessageRequest{
		ConversationID:  string(c.id),
		ClientMessageID: uuid.NewString(),
		Segments:        segmentsToWire(segments),
	}
	if image != nil {
		req.ImageID = image.ID
	}
	return c.client.call(ctx, typeSendMessage, req, nil)
}

func (c *conversation) Leave(ctx context.Context) error {
	if err := c.client.call(ctx, typeLeave, conversationRequest{ConversationID: string(c.id)}, nil); err != nil {
		return err
	}
	c.list.remove(c.id)
	return nil
}

func (c *conversation) Rename(ctx context.Context, name string) error {
	if err := c.client.call(ctx, typeRename, renameRequest{ConversationID: string(c.id), Name: name}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

func (c *conversation) SetNotificationLevel(ctx context.Context, level domain.NotificationLevel) error {
	req := notificationLevelRequest{ConversationID: string(c.id), Level: string(level)}
	if err := c.client.call(ctx, typeSetNotificationLevel, req, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.quiet = level == domain.NotificationQuiet
	c.mu.Unlock()
	return nil
}

func (c *conversation) SetTyping(ctx context.Context, status domain.TypingStatus) error {
	return c.client.call(ctx, typeSetTyping, setTypingRequest{ConversationID: string(c.id), Status: string(status)}, nil)
}

func (c *conversation) UpdateReadTimestamp(ctx context.Context, ts time.Time) error {
	req := updateWatermarkRequest{ConversationID: string(c.id), ReadTimestamp: ts}
	if err := c.client.call(ctx, typeUpdateWatermark, req, nil); err != nil {
		return err
	}
	c.mu.Lock()
	if ts.After(c.latestRead) {
		c.latestRead = ts
	}
	c.mu.Unlock()
	return nil
}

func (c *conversation) FetchEvents(ctx context.Context, before domain.EventID, max int) ([]domain.Event, error) {
	var reply getEventsReply
	req := getEventsRequest{ConversationID: string(c.id), BeforeEventID: string(before), Max: max}
	if err := c.client.call(ctx, typeGetEvents, req, &reply); err != nil {
		return nil, err
	}

	events := eventsToDomain(reply.Events)
	sortEvents(events)
	c.addEvents(events...)
	return events, nil
}

func (c *conversation) addEvents(events ...domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := false
	for _, event := range events {
		if c.indexOf(event.ID) >= 0 {
			continue
		}
		c.events = append(c.events, event)
		added = true
		if event.Timestamp.After(c.lastModified) {
			c.lastModified = event.Timestamp
			if event.Kind == domain.EventRename {
				c.name = event.NewName
			}
		}
	}
	if added {
		sortEvents(c.events)
	}
	return added
}

func (c *conversation) mergeWatermark(w domain.Watermark) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if known, ok := c.watermarks[w.UserID]; ok && !w.ReadTimestamp.After(known.ReadTimestamp) {
		return
	}
	c.storeWatermark(w)
}

func (c *conversation) setWatermark(w domain.Watermark) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeWatermark(w)
}

func (c *conversation) storeWatermark(w domain.Watermark) {
	if c.watermarks == nil {
		c.watermarks = map[domain.UserID]domain.Watermark{}
	}
	c.watermarks[w.UserID] = w
	if w.UserID == c.selfID && w.ReadTimestamp.After(c.latestRead) {
		c.latestRead = w.ReadTimestamp
	}
}

func (c *conversation) indexOf(id domain.EventID) int {
	for i := range c.events {
		if c.events[i].ID == id {
			return i
		}
	}
	return -1
}

func sortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
