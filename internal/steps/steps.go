package steps

import "context"

type Kind string

const (
	// None means no conversational flow is in progress.
	None Kind = ""
	// AwaitingToken means the user's next free-text message is a bot credential.
	AwaitingToken Kind = "awaiting-credential"
	// AwaitingAdminID means the user's next free-text message is an admin user id.
	AwaitingAdminID Kind = "awaiting-admin-id"
)

// Step is the per-user conversational position. An explicit payload replaces
// the old string-label encoding, so nothing downstream parses labels.
type Step struct {
	Kind  Kind  `json:"kind"`
	BotID int64 `json:"bot_id,omitempty"`
}

func (s Step) IsZero() bool {
	return s.Kind == None
}

// Store is owned by the UI layer in the surrounding system; the provisioning
// workflow consumes it through this interface.
type Store interface {
	Set(ctx context.Context, userID int64, s Step) error
	Get(ctx context.Context, userID int64) (Step, error)
	Clear(ctx context.Context, userID int64) error
}
