package rooms

import (
	"context"

	"farmrealm-server/internal/app/world"
)

type connectRoom struct {
	conn world.Conn
}

type disconnectRoom struct {
	sessionID string
}

type clientFrame struct {
	sessionID string
	raw       []byte
}

type tickRoom struct{}

// expiryDue wakes a realm at its deadline even when no socket keeps it ticking.
type expiryDue struct{}

// followup carries the result of off-actor work back into the mailbox.
type followup struct {
	fn func(*world.Room)
}

// Op runs against a room on its actor goroutine and answers an internal request.
type Op func(ctx context.Context, room *world.Room) (any, error)

type roomRequest struct {
	op Op
}

type roomResponse struct {
	value any
	err   error
}
