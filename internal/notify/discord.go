package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordConfig holds Discord platform settings
type DiscordConfig struct {
	Token     string
	ChannelID string
}

type discordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications to a channel, editing the earlier message for a repeated tag.
type Discord struct {
	api       discordAPI
	channelID string
	logger    *zap.Logger

	mu    sync.Mutex
	byTag map[string]string
}

// NewDiscord creates a REST-only Discord session; no gateway connection is opened.
func NewDiscord(cfg DiscordConfig, logger *zap.Logger) (*Discord, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return newDiscord(session, cfg.ChannelID, logger), nil
}

func newDiscord(api discordAPI, channelID string, logger *zap.Logger) *Discord {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{
		api:       api,
		channelID: channelID,
		logger:    logger,
		byTag:     make(map[string]string),
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Available() bool {
	return d.api != nil && d.channelID != ""
}

func (d *Discord) RequestPermission(ctx context.Context) (Permission, error) {
	ch, err := d.api.Channel(d.channelID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == 403 {
			return PermissionDenied, nil
		}
		return PermissionDefault, fmt.Errorf("discord channel lookup: %w", err)
	}
	d.logger.Info("Discord channel reachable", zap.String("channel", ch.Name))
	return PermissionGranted, nil
}

func (d *Discord) Show(ctx context.Context, n Notification) error {
	content := fmt.Sprintf("🔔 **%s**\n%s", n.Title, n.Body)

	d.mu.Lock()
	msgID, seen := d.byTag[n.Tag]
	d.mu.Unlock()

	if seen && n.Tag != "" {
		if _, err := d.api.ChannelMessageEdit(d.channelID, msgID, content, discordgo.WithContext(ctx)); err == nil {
			return nil
		}
	}

	msg, err := d.api.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	if n.Tag != "" {
		d.mu.Lock()
		d.byTag[n.Tag] = msg.ID
		d.mu.Unlock()
	}
	return nil
}
