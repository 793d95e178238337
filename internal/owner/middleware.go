package owner

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/wichananm65/storefront-backend/internal/user"
)

const localsKey = "owner"

type Config struct {
	CookieName string
	Secure     bool
	MaxAge     time.Duration
}

// Middleware resolves the request owner. A valid JWT user wins; otherwise
// the session cookie is used, minting a fresh one when missing or garbled.
func Middleware(cfg Config) fiber.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "sid"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}

	return func(c *fiber.Ctx) error {
		sid := c.Cookies(cfg.CookieName)
		if _, err := uuid.Parse(sid); err != nil {
			sid = uuid.NewString()
			c.Cookie(&fiber.Cookie{
				Name:     cfg.CookieName,
				Value:    sid,
				Path:     "/",
				HTTPOnly: true,
				Secure:   cfg.Secure,
				SameSite: fiber.CookieSameSiteLaxMode,
				Expires:  time.Now().Add(cfg.MaxAge),
			})
		}
		c.Locals(sessionLocalsKey, sid)

		if id, err := user.GetUserIDFromCtx(c); err == nil && id > 0 {
			c.Locals(localsKey, ForUser(id))
		} else {
			c.Locals(localsKey, ForSession(sid))
		}
		return c.Next()
	}
}

const sessionLocalsKey = "owner_session"

func FromCtx(c *fiber.Ctx) (Key, error) {
	k, ok := c.Locals(localsKey).(Key)
	if !ok || !k.Valid() {
		return Key{}, fiber.ErrUnauthorized
	}
	return k, nil
}

// SessionFromCtx returns the anonymous session bound to the request even
// when a user is signed in. Cart merge uses it.
func SessionFromCtx(c *fiber.Ctx) (Key, bool) {
	sid, ok := c.Locals(sessionLocalsKey).(string)
	if !ok || sid == "" {
		return Key{}, false
	}
	return ForSession(sid), true
}
