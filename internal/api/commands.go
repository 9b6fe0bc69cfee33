package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/engine"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

// Command actions accepted on the bus.
const (
	ActionCheck    = "check"
	ActionCheckIn  = "checkin"
	ActionHelp     = "emergency"
	ActionUsage    = "usage"
	ActionLocation = "location"
)

const commandTimeout = 15 * time.Second

// CommandSubject is the subject a paired device publishes commands on. It
// sits outside safety.> so commands never land in the event stream.
func CommandSubject(userID string) string {
	return "safetyd.commands." + userID
}

// Command lets a paired device (a guardian's phone, a wearable) drive the
// monitor without going through HTTP.
type Command struct {
	Action      string `json:"action"`
	Mood        string `json:"mood,omitempty"`
	Note        string `json:"note,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`

	// usage
	Opens             int `json:"opens,omitempty"`
	ScreenTimeMinutes int `json:"screen_time_minutes,omitempty"`

	// location
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// CommandHandler applies bus commands to the monitor.
type CommandHandler struct {
	monitor Monitor
	inputs  Inputs
	logger  *zap.Logger
}

func NewCommandHandler(monitor Monitor, inputs Inputs, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{monitor: monitor, inputs: inputs, logger: logging.OrNop(logger)}
}

// HandleMsg is a nats.MsgHandler. Bad commands are logged and dropped.
func (h *CommandHandler) HandleMsg(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		h.logger.Warn("malformed command", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := h.Apply(ctx, cmd); err != nil {
		h.logger.Warn("command failed", zap.String("action", cmd.Action), zap.Error(err))
	}
}

// Apply runs one command.
func (h *CommandHandler) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionCheck:
		_, err := h.monitor.RunCycle(ctx)
		if errors.Is(err, engine.ErrCycleInFlight) {
			return nil
		}
		return err
	case ActionCheckIn:
		mood, err := checkin.ParseMood(cmd.Mood)
		if err != nil {
			return err
		}
		_, err = h.monitor.CheckIn(ctx, mood, cmd.Note)
		return err
	case ActionHelp:
		_, err := h.monitor.RequestHelp(ctx, cmd.Type, cmd.Description)
		return err
	case ActionUsage:
		return h.inputs.recordUsage(UsageReport{Opens: cmd.Opens, ScreenTimeMinutes: cmd.ScreenTimeMinutes})
	case ActionLocation:
		return h.inputs.updateLocation(LocationReport{
			Latitude:   cmd.Latitude,
			Longitude:  cmd.Longitude,
			Accuracy:   cmd.Accuracy,
			CapturedAt: cmd.CapturedAt,
		})
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}
