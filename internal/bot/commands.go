package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/getsentry/sentry-go"

	"uid-whitelist/internal/ledger"
	"uid-whitelist/internal/observability"
	"uid-whitelist/internal/ratelimit"
)

const (
	CommandAdd    = "uid-add"
	CommandDelete = "uid-delete"
	CommandView   = "uid-view"
	CommandCheck  = "uid-check"

	defaultCommandHours = 24
	viewLimit           = 10
)

const (
	ColorSuccess = 0x00ff00
	ColorError   = 0xff0000
	ColorExpired = 0xffaa00
	ColorInfo    = 0x0099ff
)

// Ledger is the slice of the UID ledger the chat commands use.
type Ledger interface {
	AddUID(ctx context.Context, uid string, hours int) (ledger.Entry, error)
	RemoveUID(ctx context.Context, uid string) (bool, error)
	GetUID(ctx context.Context, uid string) (ledger.Entry, error)
	ListAll(ctx context.Context) ([]ledger.Entry, error)
}

type OptionKind int

const (
	OptionString OptionKind = iota
	OptionInteger
)

type OptionSpec struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
	Min         int
	Max         int
}

type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
}

// Commands lists the slash commands a bot registers.
func Commands() []CommandSpec {
	uidOption := func(description string) OptionSpec {
		return OptionSpec{Name: "uid", Description: description, Kind: OptionString, Required: true}
	}

	return []CommandSpec{
		{
			Name:        CommandAdd,
			Description: "Add a UID to whitelist",
			Options: []OptionSpec{
				uidOption("UID to add"),
				{Name: "hours", Description: "Valid hours", Kind: OptionInteger, Min: 1, Max: ledger.MaxHours},
			},
		},
		{Name: CommandDelete, Description: "Delete a UID from whitelist", Options: []OptionSpec{uidOption("UID to delete")}},
		{Name: CommandView, Description: "View all UIDs"},
		{Name: CommandCheck, Description: "Check if UID is whitelisted", Options: []OptionSpec{uidOption("UID to check")}},
	}
}

var errUnknownCommand = errors.New("unknown command")

type Invocation struct {
	Command string
	UserID  string
	UID     string
	// Hours is nil when the option was omitted. An explicit value, zero
	// included, is validated as given.
	Hours *int
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Reply struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Ephemeral   bool
}

type Dispatcher struct {
	ledger  Ledger
	limiter *ratelimit.Keyed
	logger  *observability.Logger
	now     func() time.Time
}

// NewDispatcher wires commands to the ledger. limiter may be nil.
func NewDispatcher(l Ledger, limiter *ratelimit.Keyed, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{ledger: l, limiter: limiter, logger: logger, now: time.Now}
}

func (d *Dispatcher) Handle(ctx context.Context, inv Invocation) Reply {
	if d.limiter != nil && inv.UserID != "" {
		if ok, wait := d.limiter.Allow(inv.UserID, d.now()); !ok {
			return Reply{
				Title:       "⏳ Slow down",
				Description: fmt.Sprintf("Try again in %ds", int(math.Ceil(wait.Seconds()))),
				Color:       ColorExpired,
				Ephemeral:   true,
			}
		}
	}

	d.logger.Info("bot_command", map[string]any{"command": inv.Command, "user_id": inv.UserID})

	var (
		reply Reply
		err   error
	)
	switch inv.Command {
	case CommandAdd:
		reply, err = d.add(ctx, inv)
	case CommandDelete:
		reply, err = d.remove(ctx, inv)
	case CommandView:
		reply, err = d.view(ctx)
	case CommandCheck:
		reply, err = d.check(ctx, inv)
	default:
		err = fmt.Errorf("%w: %s", errUnknownCommand, inv.Command)
	}
	if err != nil {
		return d.errorReply(inv, err)
	}
	return reply
}

func (d *Dispatcher) add(ctx context.Context, inv Invocation) (Reply, error) {
	uid, err := ledger.NormalizeUID(inv.UID)
	if err != nil {
		return Reply{}, err
	}
	hours := defaultCommandHours
	if inv.Hours != nil {
		hours = *inv.Hours
	}
	if err := ledger.ValidateHours(hours); err != nil {
		return Reply{}, err
	}

	if _, err := d.ledger.AddUID(ctx, uid, hours); err != nil {
		return Reply{}, err
	}

	return Reply{
		Title:       "✅ UID Added",
		Description: fmt.Sprintf("`%s` added for **%dh**", uid, hours),
		Color:       ColorSuccess,
	}, nil
}

func (d *Dispatcher) remove(ctx context.Context, inv Invocation) (Reply, error) {
	uid, err := ledger.NormalizeUID(inv.UID)
	if err != nil {
		return Reply{}, err
	}

	removed, err := d.ledger.RemoveUID(ctx, uid)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return Reply{
			Title:       "❌ Not Found",
			Description: fmt.Sprintf("`%s` not in system", uid),
			Color:       ColorError,
		}, nil
	}

	return Reply{
		Title:       "✅ Deleted",
		Description: fmt.Sprintf("`%s` removed", uid),
		Color:       ColorSuccess,
	}, nil
}

func (d *Dispatcher) view(ctx context.Context) (Reply, error) {
	entries, err := d.ledger.ListAll(ctx)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{
		Title: fmt.Sprintf("📋 All UIDs (%d)", len(entries)),
		Color: ColorInfo,
	}
	if len(entries) == 0 {
		reply.Description = "No UIDs yet"
		return reply, nil
	}

	shown := entries
	if len(shown) > viewLimit {
		shown = shown[:viewLimit]
		reply.Description = fmt.Sprintf("Showing %d of %d", viewLimit, len(entries))
	}
	for _, entry := range shown {
		value := "⚫ expired"
		if entry.Status == ledger.StatusActive {
			value = fmt.Sprintf("🟢 %dh left", entry.RemainingHours)
		}
		reply.Fields = append(reply.Fields, Field{Name: entry.UID, Value: value})
	}

	return reply, nil
}

func (d *Dispatcher) check(ctx context.Context, inv Invocation) (Reply, error) {
	uid, err := ledger.NormalizeUID(inv.UID)
	if err != nil {
		return Reply{}, err
	}

	entry, err := d.ledger.GetUID(ctx, uid)
	if errors.Is(err, ledger.ErrUIDNotFound) {
		return Reply{
			Title:       "❌ Not Found",
			Description: fmt.Sprintf("`%s` not whitelisted", uid),
			Color:       ColorError,
		}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	if entry.Status == ledger.StatusActive {
		return Reply{
			Title:       "✅ Whitelisted",
			Description: fmt.Sprintf("`%s` ACTIVE • %dh", uid, entry.RemainingHours),
			Color:       ColorSuccess,
		}, nil
	}

	return Reply{
		Title:       "⏰ Expired",
		Description: fmt.Sprintf("`%s` expired", uid),
		Color:       ColorExpired,
	}, nil
}

func (d *Dispatcher) errorReply(inv Invocation, err error) Reply {
	message := err.Error()
	switch {
	case errors.Is(err, ledger.ErrInvalidHours):
		message = fmt.Sprintf("hours must be between 1 and %d", ledger.MaxHours)
	case errors.Is(err, ledger.ErrInvalidUID), errors.Is(err, errUnknownCommand):
	default:
		sentry.CaptureException(err)
		d.logger.Error("bot_command_failed", map[string]any{"command": inv.Command, "error": err.Error()})
		message = "Something went wrong, try again later"
	}

	return Reply{
		Title:       "❌ Error",
		Description: message,
		Color:       ColorError,
		Ephemeral:   true,
	}
}
