package handler

import (
	"fmt"
	"strconv"

	relay_errors "relay-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

func pathID(c *gin.Context, name string) (int64, error) {
	value := c.Param(name)
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, relay_errors.ErrInvalidInput)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	value := c.Query(name)
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, relay_errors.ErrInvalidInput)
	}
	return parsed, nil
}

func pageParams(c *gin.Context, defaultSize int) (page, size int, err error) {
	if page, err = queryInt(c, "page", 0); err != nil {
		return 0, 0, err
	}
	if size, err = queryInt(c, "size", defaultSize); err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("invalid request body: %w: %v", relay_errors.ErrInvalidInput, err)
	}
	return nil
}
