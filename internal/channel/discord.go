package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/compose"
	"github.com/musterbot/muster/internal/config"
	"github.com/musterbot/muster/internal/roster"
)

// Discord integrates with the Discord gateway via discordgo. A conversation
// is a guild: member joins and leaves are guild-level events, and mentions
// reach everyone regardless of which text channel the command came from.
type Discord struct {
	config  config.DiscordConfig
	bus     *bus.Bus
	session *discordgo.Session
}

// NewDiscord creates a new Discord channel.
func NewDiscord(cfg config.DiscordConfig, b *bus.Bus) *Discord {
	return &Discord{config: cfg, bus: b}
}

func (d *Discord) Name() string { return "discord" }

// Start opens the gateway session and processes events until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	if d.config.Token == "" {
		return fmt.Errorf("discord bot token not configured")
	}

	session, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onMemberAdd)
	session.AddHandler(d.onMemberRemove)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	d.session = session
	slog.Info("Discord gateway connected")

	<-ctx.Done()
	return session.Close()
}

// Stop closes the gateway session.
func (d *Discord) Stop() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

// Send posts the reply chunks in order, each referencing the triggering
// message. The reply target carries the text channel, since the roster key
// (the guild) alone doesn't say where to post.
func (d *Discord) Send(ctx context.Context, reply *bus.Reply) error {
	channelID, messageID, ok := splitReplyTarget(reply.ReplyTo)
	if !ok {
		return fmt.Errorf("bad discord reply target %q", reply.ReplyTo)
	}
	for i, chunk := range reply.Chunks {
		msg := &discordgo.MessageSend{
			Content: chunk,
			Reference: &discordgo.MessageReference{
				MessageID: messageID,
				ChannelID: channelID,
				GuildID:   reply.Origin.Conversation,
			},
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			},
		}
		if _, err := d.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(reply.Chunks), err)
		}
	}
	return nil
}

// IsAdministrator reports whether the user owns the guild or holds a role
// with the Administrator permission.
func (d *Discord) IsAdministrator(ctx context.Context, convo, userID string) (bool, error) {
	guild, err := d.session.State.Guild(convo)
	if err != nil {
		guild, err = d.session.Guild(convo, discordgo.WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("fetch guild %s: %w", convo, err)
		}
	}
	if guild.OwnerID == userID {
		return true, nil
	}

	member, err := d.session.GuildMember(convo, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	perms := make(map[string]int64, len(guild.Roles))
	for _, role := range guild.Roles {
		perms[role.ID] = role.Permissions
	}
	for _, roleID := range member.Roles {
		if perms[roleID]&discordgo.PermissionAdministrator != 0 {
			return true, nil
		}
	}
	return false, nil
}

// Format returns Discord's text rules.
func (d *Discord) Format() compose.Format { return DiscordFormat{} }

func (d *Discord) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	d.bus.PublishEvent(bus.MessageReceived{
		Origin:    bus.Origin{Channel: d.Name(), Conversation: m.GuildID},
		UserID:    m.Author.ID,
		Handle:    discordHandle(m.Member, m.Author),
		Text:      m.Content,
		MessageID: joinReplyTarget(m.ChannelID, m.ID),
	})
}

func (d *Discord) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	d.bus.PublishEvent(bus.MemberJoined{
		Origin: bus.Origin{Channel: d.Name(), Conversation: m.GuildID},
		UserID: m.User.ID,
		Handle: discordHandle(m.Member, m.User),
	})
}

func (d *Discord) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.User == nil || m.User.Bot {
		return
	}
	d.bus.PublishEvent(bus.MemberLeft{
		Origin: bus.Origin{Channel: d.Name(), Conversation: m.GuildID},
		UserID: m.User.ID,
	})
}

func discordHandle(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

// Reply targets are "channelID/messageID": guild alone can't address a post.

func joinReplyTarget(channelID, messageID string) string {
	return channelID + "/" + messageID
}

func splitReplyTarget(target string) (channelID, messageID string, ok bool) {
	channelID, messageID, ok = strings.Cut(target, "/")
	return channelID, messageID, ok && channelID != "" && messageID != ""
}

// DiscordFormat renders plain Discord mentions. <@id> needs no escaping and
// the client resolves the display name itself.
type DiscordFormat struct{}

func (DiscordFormat) Mention(p roster.Participant) string { return "<@" + p.ID + ">" }

func (DiscordFormat) Body(text string) string { return text }

func (DiscordFormat) Decorate(mentions string) string { return mentions }

func (DiscordFormat) MaxLen() int { return 2000 }
