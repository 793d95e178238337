package owner

import (
	"errors"
	"strconv"
)

var ErrInvalidKey = errors.New("owner key must carry exactly one of user id or session id")

// Key identifies who owns a cart or an order: a signed-in user or an
// anonymous browser session. Exactly one side is set.
type Key struct {
	UserID    int64  `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func ForUser(id int64) Key { return Key{UserID: id} }

func ForSession(id string) Key { return Key{SessionID: id} }

func (k Key) IsUser() bool { return k.UserID > 0 && k.SessionID == "" }

func (k Key) IsSession() bool { return k.UserID == 0 && k.SessionID != "" }

func (k Key) Valid() bool { return k.IsUser() || k.IsSession() }

func (k Key) Validate() error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	return nil
}

// String renders the key as stored in owner_key columns.
func (k Key) String() string {
	if k.IsUser() {
		return "user:" + strconv.FormatInt(k.UserID, 10)
	}
	return "session:" + k.SessionID
}

// NullableUserID and NullableSessionID map the key onto the two nullable
// owner columns.
func (k Key) NullableUserID() any {
	if k.IsUser() {
		return k.UserID
	}
	return nil
}

func (k Key) NullableSessionID() any {
	if k.IsSession() {
		return k.SessionID
	}
	return nil
}
