package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/getsentry/sentry-go"

	"uid-whitelist/internal/observability"
)

const (
	interactionTimeout = 10 * time.Second
	footerPrefix       = "UID Whitelist | "
)

const discordIntents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

// DiscordGateway adapts a discordgo session to Gateway. Reconnects are left to
// the Supervisor, so the library's own reconnect loop is disabled.
type DiscordGateway struct {
	name       string
	session    *discordgo.Session
	dispatcher *Dispatcher
	logger     *observability.Logger

	mu      sync.Mutex
	ready   chan *discordgo.Ready
	dropped chan error
}

func NewDiscordGateway(token, name string, dispatcher *Dispatcher, logger *observability.Logger) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.ShouldReconnectOnError = false
	session.Identify.Intents = discordIntents

	g := &DiscordGateway{
		name:       name,
		session:    session,
		dispatcher: dispatcher,
		logger:     logger.With(map[string]any{"bot": name}),
	}

	session.AddHandler(g.onReady)
	session.AddHandler(g.onDisconnect)
	session.AddHandler(g.onInteraction)

	return g, nil
}

func (g *DiscordGateway) Open(ctx context.Context) (<-chan error, error) {
	ready, dropped := g.arm()

	if err := g.session.Open(); err != nil {
		return nil, fmt.Errorf("open discord websocket: %w", err)
	}

	var r *discordgo.Ready
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for ready: %w", ctx.Err())
	case err := <-dropped:
		return nil, fmt.Errorf("wait for ready: %w", err)
	case r = <-ready:
	}

	if err := g.registerCommands(r.User.ID); err != nil {
		return nil, err
	}
	return dropped, nil
}

func (g *DiscordGateway) Close() error {
	g.disarm()

	if err := g.session.Close(); err != nil && !errors.Is(err, discordgo.ErrWSNotFound) {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

// arm installs fresh ready and drop channels before the websocket opens, so
// a disconnect racing the handshake stays buffered for the caller.
func (g *DiscordGateway) arm() (chan *discordgo.Ready, chan error) {
	ready := make(chan *discordgo.Ready, 1)
	dropped := make(chan error, 1)

	g.mu.Lock()
	g.ready = ready
	g.dropped = dropped
	g.mu.Unlock()
	return ready, dropped
}

func (g *DiscordGateway) disarm() {
	g.mu.Lock()
	g.ready = nil
	g.dropped = nil
	g.mu.Unlock()
}

func (g *DiscordGateway) registerCommands(appID string) error {
	if _, err := g.session.ApplicationCommandBulkOverwrite(appID, "", applicationCommands()); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

func (g *DiscordGateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()

	if ready == nil {
		return
	}
	select {
	case ready <- r:
	default:
	}
}

func (g *DiscordGateway) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	g.mu.Lock()
	dropped := g.dropped
	g.mu.Unlock()

	if dropped == nil {
		return
	}
	select {
	case dropped <- errConnectionDropped:
	default:
	}
}

func (g *DiscordGateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	reply := g.dispatcher.Handle(ctx, invocationFrom(i))

	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{g.embed(reply)}}
	if reply.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		sentry.CaptureException(err)
		g.logger.Error("bot_interaction_respond_failed", map[string]any{"error": err.Error()})
	}
}

func (g *DiscordGateway) embed(reply Reply) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       reply.Title,
		Description: reply.Description,
		Color:       reply.Color,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerPrefix + g.name},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, field := range reply.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}
	return embed
}

func invocationFrom(i *discordgo.InteractionCreate) Invocation {
	data := i.ApplicationCommandData()
	inv := Invocation{Command: data.Name}

	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.UserID = i.Member.User.ID
	case i.User != nil:
		inv.UserID = i.User.ID
	}

	for _, opt := range data.Options {
		switch opt.Name {
		case "uid":
			inv.UID = opt.StringValue()
		case "hours":
			hours := int(opt.IntValue())
			inv.Hours = &hours
		}
	}
	return inv
}

func applicationCommands() []*discordgo.ApplicationCommand {
	specs := Commands()
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))

	for _, spec := range specs {
		cmd := &discordgo.ApplicationCommand{Name: spec.Name, Description: spec.Description}
		for _, opt := range spec.Options {
			option := &discordgo.ApplicationCommandOption{
				Name:        opt.Name,
				Description: opt.Description,
				Required:    opt.Required,
				Type:        discordgo.ApplicationCommandOptionString,
			}
			if opt.Kind == OptionInteger {
				option.Type = discordgo.ApplicationCommandOptionInteger
				minValue := float64(opt.Min)
				option.MinValue = &minValue
				option.MaxValue = float64(opt.Max)
			}
			cmd.Options = append(cmd.Options, option)
		}
		out = append(out, cmd)
	}
	return out
}
