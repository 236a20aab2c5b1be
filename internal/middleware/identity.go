package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated user id, if any.
func UserID(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxUserID).(string)
	return id, ok && id != ""
}

// Role returns the authenticated user's role, or "".
func Role(c echo.Context) string {
	role, _ := c.Get(ctxRole).(string)
	return role
}

// identity keys rate-limit buckets: the user id or "anon".
func identity(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return id
	}
	return "anon"
}
