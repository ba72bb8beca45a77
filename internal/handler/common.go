package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/pickup"
)

// getUserID reads the authenticated user id stored by the JWT middleware.
func getUserID(c echo.Context) uint64 {
	if v, ok := c.Get("user_id").(uint64); ok {
		return v
	}
	return 0
}

func getRole(c echo.Context) string {
	if v, ok := c.Get("role").(string); ok {
		return v
	}
	return ""
}

// getSchoolID returns the staff member's school, zero for parents/admins.
func getSchoolID(c echo.Context) uint64 {
	if v, ok := c.Get("school_id").(uint64); ok {
		return v
	}
	return 0
}

// actorFromContext builds the pickup actor for the current request.
// The identity always comes from the token, never from the body.
func actorFromContext(c echo.Context) pickup.Actor {
	return pickup.Actor{
		ID:       getUserID(c),
		Role:     getRole(c),
		SchoolID: getSchoolID(c),
	}
}

// pathID parses a numeric path parameter; zero means invalid.
func pathID(c echo.Context, name string) uint64 {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
