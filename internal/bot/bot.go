// Package bot exposes the market as Discord slash commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptobot/internal/trade"

	"github.com/bwmarrin/discordgo"
)

type Bot struct {
	session *discordgo.Session
	handler *Handler
	guildID string
	onReady func()
	log     *slog.Logger
}

func New(token, guildID string, handler *Handler, onReady func(), logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	b := &Bot{session: s, handler: handler, guildID: guildID, onReady: onReady, log: logger}
	s.AddHandler(b.handleReady)
	s.AddHandler(b.handleInteraction)
	return b, nil
}

// Run connects, registers the commands and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	defer b.session.Close()

	if _, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, commands()); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	<-ctx.Done()
	return nil
}

func (b *Bot) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord ready", "user", r.User.Username, "user_id", r.User.ID)
	if b.onReady != nil {
		b.onReady()
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.autocomplete(ctx, s, i)
	case discordgo.InteractionApplicationCommand:
		reply := b.dispatch(ctx, s, i)
		if err := s.InteractionRespond(i.Interaction, toResponse(reply)); err != nil {
			b.log.Warn("interaction respond failed", "err", err)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) Reply {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return failure("Unknown command.")
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)
	caller := interactionUser(i)

	switch data.Name + " " + sub.Name {
	case "admin create":
		return b.handler.Create(ctx, opts.str("tag"), opts.str("name"), opts.integer("price"), opts.integer("changes"))
	case "admin remove":
		return b.handler.Remove(ctx, opts.str("tag"))
	case "crypto balance":
		if o, ok := opts["user"]; ok {
			u := o.UserValue(s)
			return b.handler.Balance(ctx, u.ID, u.Username, u.ID == caller.ID)
		}
		return b.handler.Balance(ctx, caller.ID, caller.Username, true)
	case "crypto buy":
		return b.handler.Trade(ctx, trade.SideBuy, caller.ID, opts.str("tag"), opts.integer("amount"))
	case "crypto sell":
		return b.handler.Trade(ctx, trade.SideSell, caller.ID, opts.str("tag"), opts.integer("amount"))
	case "crypto graph":
		return b.handler.Graph(ctx, opts.str("tag"), opts.str("period"))
	}
	return failure("Unknown command.")
}

func (b *Bot) autocomplete(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	fragment := ""
	if len(data.Options) > 0 {
		for _, o := range data.Options[0].Options {
			if o.Focused {
				fragment = o.StringValue()
			}
		}
	}
	tags := b.handler.Autocomplete(ctx, fragment)
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(tags))
	for _, t := range tags {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: t, Value: t})
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		b.log.Warn("autocomplete respond failed", "err", err)
	}
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(in []*discordgo.ApplicationCommandInteractionDataOption) options {
	out := make(options, len(in))
	for _, o := range in {
		out[o.Name] = o
	}
	return out
}

func (o options) str(name string) string {
	if v, ok := o[name]; ok {
		return v.StringValue()
	}
	return ""
}

func (o options) integer(name string) int64 {
	if v, ok := o[name]; ok {
		return v.IntValue()
	}
	return 0
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func toResponse(r Reply) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if r.Title == "" && len(r.Fields) == 0 {
		data.Content = r.Content
	} else {
		embed := &discordgo.MessageEmbed{
			Color:       embedColor,
			Title:       r.Title,
			Description: r.Content,
		}
		for _, f := range r.Fields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: true})
		}
		data.Embeds = []*discordgo.MessageEmbed{embed}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}
