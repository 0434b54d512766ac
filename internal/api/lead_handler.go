package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/skdvlpr/gomercatocrm/internal/greeter"
)

// leadCreated is called by the CRM after a lead is saved.
func (s *server) leadCreated(c *fiber.Ctx) error {
	var req leadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body", err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error(), err)
	}
	res, err := s.Greeter.Greet(c.UserContext(), greeter.Lead{
		ID:        req.ID,
		FirstName: req.FirstName,
		Name:      req.Name,
		Company:   req.AccountName,
		Source:    req.Source,
		Phone:     req.PhoneNumber,
		IsNew:     req.IsNew == nil || *req.IsNew,
	})
	if err != nil {
		return bridgeFailed("send greeting", err)
	}
	return ok(c, "lead processed", res)
}
