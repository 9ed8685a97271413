package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/saturnino-fabrica-de-software/chamada/internal/audit"
)

// record fills the request context into event and hands it to the audit log.
// Audit failures never fail the request. Request strings are copied since the
// logger may keep the event after the handler returns.
func record(c *fiber.Ctx, log audit.Logger, event audit.Event, err error) {
	if log == nil {
		return
	}

	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
	}
	event.IPAddress = utils.CopyString(c.IP())
	event.UserAgent = utils.CopyString(c.Get(fiber.HeaderUserAgent))
	if id := c.Locals("requestid"); id != nil {
		event.RequestID = fmt.Sprint(id)
	}

	_ = log.Log(c.UserContext(), event)
}
