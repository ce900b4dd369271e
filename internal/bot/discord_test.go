package bot

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uid-whitelist/internal/observability"
)

func newTestDiscordGateway(t *testing.T) *DiscordGateway {
	t.Helper()

	g, err := NewDiscordGateway("not-a-real-token", "alpha", nil, observability.Discard())
	require.NoError(t, err)
	return g
}

func TestDiscordGateway_DropDuringHandshakeIsKept(t *testing.T) {
	g := newTestDiscordGateway(t)

	ready, dropped := g.arm()

	// The websocket can fall over between session.Open and Ready.
	g.onDisconnect(nil, &discordgo.Disconnect{})
	g.onDisconnect(nil, &discordgo.Disconnect{})
	g.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "app-1"}})

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, errConnectionDropped)
	case <-time.After(time.Second):
		t.Fatal("drop was lost")
	}

	select {
	case r := <-ready:
		assert.Equal(t, "app-1", r.User.ID)
	default:
		t.Fatal("ready was lost")
	}
}

func TestDiscordGateway_RearmReplacesChannels(t *testing.T) {
	g := newTestDiscordGateway(t)

	_, first := g.arm()
	_, second := g.arm()
	g.onDisconnect(nil, &discordgo.Disconnect{})

	assert.Len(t, first, 0)
	assert.Len(t, second, 1)
}

func TestDiscordGateway_DisarmedIgnoresEvents(t *testing.T) {
	g := newTestDiscordGateway(t)

	ready, dropped := g.arm()
	g.disarm()

	g.onDisconnect(nil, &discordgo.Disconnect{})
	g.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "app-1"}})

	assert.Len(t, dropped, 0)
	assert.Len(t, ready, 0)
}

func commandInteraction(options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "u1"},
		Data: discordgo.ApplicationCommandInteractionData{Name: CommandAdd, Options: options},
	}}
}

func TestInvocationFrom_HoursPresence(t *testing.T) {
	uid := &discordgo.ApplicationCommandInteractionDataOption{Name: "uid", Type: discordgo.ApplicationCommandOptionString, Value: "player-1"}

	inv := invocationFrom(commandInteraction(uid))
	assert.Equal(t, "u1", inv.UserID)
	assert.Equal(t, "player-1", inv.UID)
	assert.Nil(t, inv.Hours)

	zero := &discordgo.ApplicationCommandInteractionDataOption{Name: "hours", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(0)}
	inv = invocationFrom(commandInteraction(uid, zero))
	require.NotNil(t, inv.Hours)
	assert.Equal(t, 0, *inv.Hours)
}
