package wire

import (
	"errors"

	"github.com/user/relaycord/internal/types"
)

var errEmpty = errors.New("empty payload")

// Profile converts a user object into a non-placeholder profile record.
func (u *User) Profile() *types.ProfileRecord {
	return &types.ProfileRecord{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: deref(u.GlobalName),
		Avatar:     deref(u.Avatar),
		Bot:        u.Bot,
	}
}

// Membership converts the guild-specific part of a member object.
func (m *Member) Membership() *types.GuildMembership {
	return &types.GuildMembership{
		Nick:     deref(m.Nick),
		Avatar:   deref(m.Avatar),
		Roles:    append([]types.Snowflake(nil), m.Roles...),
		JoinedAt: ParseTime(m.JoinedAt),
	}
}

// Record converts a channel object. guildID overrides the payload's guild
// id when the channel arrived nested inside a guild.
func (c *Channel) Record(guildID types.Snowflake) *types.ChannelRecord {
	if guildID == 0 {
		guildID = c.GuildID
	}
	rec := &types.ChannelRecord{
		ID:         c.ID,
		GuildID:    guildID,
		ParentID:   c.ParentID,
		Type:       types.ChannelType(c.Type),
		Name:       c.Name,
		Topic:      c.Topic,
		Position:   c.Position,
		NSFW:       c.NSFW,
		Overwrites: make(map[types.Snowflake]types.Overwrite, len(c.PermissionOverwrites)),
		LastSentID: c.LastMessageID,
	}
	for _, ow := range c.PermissionOverwrites {
		rec.Overwrites[ow.ID] = types.Overwrite{
			ID:    ow.ID,
			Type:  types.OverwriteType(ow.Type),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		}
	}
	for _, r := range c.Recipients {
		rec.Recipients = append(rec.Recipients, r.ID)
	}
	if len(rec.Recipients) == 0 {
		rec.Recipients = append(rec.Recipients, c.RecipientIDs...)
	}
	return rec
}

func (r *Role) Record() *types.RoleRecord {
	return &types.RoleRecord{
		ID:          r.ID,
		Name:        r.Name,
		Permissions: r.Permissions,
		Position:    r.Position,
		Color:       r.Color,
	}
}

// Record converts a full guild snapshot, channels and threads included.
func (g *Guild) Record() *types.GuildRecord {
	rec := types.NewGuildRecord(g.ID)
	rec.Name = g.Name
	rec.Icon = g.Icon
	rec.OwnerID = g.OwnerID
	if g.Properties != nil {
		if rec.Name == "" {
			rec.Name = g.Properties.Name
		}
		if rec.Icon == "" {
			rec.Icon = g.Properties.Icon
		}
		if rec.OwnerID == 0 {
			rec.OwnerID = g.Properties.OwnerID
		}
	}
	rec.MemberCount = g.MemberCount
	rec.Unavailable = g.Unavailable
	for i := range g.Roles {
		role := g.Roles[i].Record()
		rec.Roles[role.ID] = role
	}
	for i := range g.Channels {
		rec.Channels = append(rec.Channels, g.Channels[i].Record(g.ID))
	}
	for i := range g.Threads {
		rec.Channels = append(rec.Channels, g.Threads[i].Record(g.ID))
	}
	rec.SortChannels()
	return rec
}

func convertAttachments(in []Attachment) []types.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.Attachment, len(in))
	for i, a := range in {
		out[i] = types.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			Size:        a.Size,
			URL:         a.URL,
			ContentType: a.ContentType,
			Width:       a.Width,
			Height:      a.Height,
		}
	}
	return out
}

func convertEmbeds(in []Embed) []types.Embed {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.Embed, len(in))
	for i, e := range in {
		out[i] = types.Embed{Type: e.Type, Title: e.Title, Description: e.Description, URL: e.URL}
	}
	return out
}

func convertMentions(in []User) []types.Snowflake {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.Snowflake, len(in))
	for i, u := range in {
		out[i] = u.ID
	}
	return out
}

func convertPoll(p *Poll) *types.Poll {
	if p == nil {
		return nil
	}
	out := &types.Poll{Question: p.Question.Text, Expiry: ParseTime(p.Expiry)}
	for _, a := range p.Answers {
		out.Answers = append(out.Answers, types.PollAnswer{ID: a.AnswerID, Text: a.PollMedia.Text})
	}
	return out
}

func convertReference(r *MessageReference) *types.MessageReference {
	if r == nil {
		return nil
	}
	return &types.MessageReference{
		Type:      types.ReferenceType(r.Type),
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
	}
}

// Record converts a message object, including a one-level copy of the
// message it replies to.
func (m *Message) Record() *types.MessageRecord {
	rec := &types.MessageRecord{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		GuildID:         m.GuildID,
		Type:            m.Type,
		Kind:            types.KindMessage,
		Content:         m.Content,
		Created:         ParseTime(m.Timestamp),
		Edited:          ParseTime(m.EditedTimestamp),
		Attachments:     convertAttachments(m.Attachments),
		Embeds:          convertEmbeds(m.Embeds),
		Mentions:        convertMentions(m.Mentions),
		MentionRoles:    append([]types.Snowflake(nil), m.MentionRoles...),
		MentionEveryone: m.MentionEveryone,
		Reference:       convertReference(m.MessageReference),
		Poll:            convertPoll(m.Poll),
		WebhookID:       m.WebhookID,
		Nonce:           m.Nonce,
	}
	if m.Author != nil {
		rec.AuthorID = m.Author.ID
	}
	if rec.Created.IsZero() && m.ID != 0 {
		rec.Created = m.ID.Time()
	}
	if m.ReferencedMessage != nil {
		ref := *m.ReferencedMessage
		ref.ReferencedMessage = nil
		rec.Referenced = ref.Record()
	}
	rec.RecomputeReplyMention()
	return rec
}

// Apply merges the fields present in a partial update into rec.
func (u *MessageUpdate) Apply(rec *types.MessageRecord) {
	if u.Content != nil {
		rec.Content = *u.Content
	}
	if u.EditedTimestamp != nil {
		rec.Edited = ParseTime(*u.EditedTimestamp)
	}
	if u.Attachments != nil {
		rec.Attachments = convertAttachments(*u.Attachments)
	}
	if u.Embeds != nil {
		rec.Embeds = convertEmbeds(*u.Embeds)
	}
	if u.Mentions != nil {
		rec.Mentions = convertMentions(*u.Mentions)
	}
	if u.MentionRoles != nil {
		rec.MentionRoles = append([]types.Snowflake(nil), (*u.MentionRoles)...)
	}
	if u.MentionEveryone != nil {
		rec.MentionEveryone = *u.MentionEveryone
	}
	if u.MessageReference != nil {
		rec.Reference = convertReference(u.MessageReference)
	}
	if u.ReferencedMessage != nil {
		ref := *u.ReferencedMessage
		ref.ReferencedMessage = nil
		rec.Referenced = ref.Record()
	}
	if u.Poll != nil {
		rec.Poll = convertPoll(u.Poll)
	}
	if u.Author != nil && u.Author.ID != 0 {
		rec.AuthorID = u.Author.ID
	}
}
