package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"gigabot/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel over a gateway session.
type Discord struct {
	token     string
	guildID   string
	allowList *AllowList
	session   *discordgo.Session
	bus       domain.MessageBus
	logger    *slog.Logger
}

type DiscordConfig struct {
	Token     string
	GuildID   string // empty accepts messages from any guild
	AllowFrom []string
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:     cfg.Token,
		guildID:   cfg.GuildID,
		allowList: NewAllowList(cfg.AllowFrom),
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) IsAllowed(senderID string) bool {
	return d.allowList.Allowed(senderID)
}

// Start connects to Discord and listens until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(d.handleMessage)
	session.AddHandler(d.handleInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *Discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}

	senderID := CompositeSenderID(m.Author.ID, m.Author.Username)
	if !d.IsAllowed(senderID) {
		logDenied(d.logger, "discord", senderID)
		return
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		content += "\n[attachment: " + att.URL + "]"
	}

	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"content_len", len(content),
	)

	d.bus.PublishInbound(domain.InboundMessage{
		Channel:   "discord",
		ChatID:    m.ChannelID,
		SenderID:  senderID,
		Content:   content,
		Metadata:  map[string]string{"username": m.Author.Username},
		Timestamp: m.Timestamp,
	})
}

func (d *Discord) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	content := "/" + data.Name
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			content += " " + opt.StringValue()
		}
	}

	// Interactions carry the user in Member inside guilds and in User
	// for DMs.
	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}
	senderID := CompositeSenderID(user.ID, user.Username)
	if !d.IsAllowed(senderID) {
		logDenied(d.logger, "discord", senderID)
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	d.bus.PublishInbound(domain.InboundMessage{
		Channel:  "discord",
		ChatID:   i.ChannelID,
		SenderID: senderID,
		Content:  content,
		Metadata: map[string]string{"username": user.Username},
	})
}

// Send splits long replies and uploads media as file attachments.
func (d *Discord) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord session not running")
	}

	for _, path := range msg.Media {
		if err := d.sendFile(msg.ChatID, path); err != nil {
			d.logger.Error("discord media send failed", "path", path, "err", err)
		}
	}

	for _, chunk := range splitMessage(msg.Content, discordMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) sendFile(channelID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = d.session.ChannelFileSend(channelID, filepath.Base(path), f)
	return err
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "ask",
			Description: "Ask the assistant a question",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "question",
					Description: "Your question",
					Required:    true,
				},
			},
		},
		{Name: "new", Description: "Start a fresh conversation"},
		{Name: "status", Description: "Show bot status"},
		{Name: "help", Description: "Show available commands"},
	}

	for _, cmd := range commands {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}

var _ domain.Channel = (*Discord)(nil)
