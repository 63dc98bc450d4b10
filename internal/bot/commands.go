package bot

import "github.com/bwmarrin/discordgo"

func commands() []*discordgo.ApplicationCommand {
	adminPerm := int64(discordgo.PermissionAdministrator)
	noDM := false
	minOne := 1.0
	minZero := 0.0

	tagOption := func(autocomplete bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "tag",
			Description:  "The crypto tag.",
			Required:     true,
			MaxLength:    3,
			Autocomplete: autocomplete,
		}
	}
	amountOption := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "amount",
			Description: desc,
			Required:    true,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "admin",
			Description:              "Manage cryptos.",
			DefaultMemberPermissions: &adminPerm,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "Create a new crypto.",
					Options: []*discordgo.ApplicationCommandOption{
						tagOption(false),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Name of the crypto (max 32 chars).",
							Required:    true,
							MaxLength:   32,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "price",
							Description: "Starting price of the crypto.",
							Required:    true,
							MinValue:    &minOne,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "changes",
							Description: "Change rate of the crypto.",
							Required:    true,
							MinValue:    &minZero,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a crypto.",
					Options:     []*discordgo.ApplicationCommandOption{tagOption(true)},
				},
			},
		},
		{
			Name:         "crypto",
			Description:  "Trade cryptos.",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "balance",
					Description: "Check someone balance.",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "The user to check.",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "buy",
					Description: "Buy crypto.",
					Options:     []*discordgo.ApplicationCommandOption{tagOption(true), amountOption("The amount of crypto to buy.")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "sell",
					Description: "Sell crypto.",
					Options:     []*discordgo.ApplicationCommandOption{tagOption(true), amountOption("The amount of crypto to sell.")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "graph",
					Description: "Price change of a crypto in a given period of time.",
					Options: []*discordgo.ApplicationCommandOption{
						tagOption(true),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "period",
							Description: "The period to check the price for.",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "hour", Value: "hour"},
								{Name: "day", Value: "day"},
								{Name: "week", Value: "week"},
							},
						},
					},
				},
			},
		},
	}
}
