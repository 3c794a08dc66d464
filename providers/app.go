package providers

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/samber/lo"
)

var validate = validator.New()

// publishRequest is the body of POST /admin/publish.
type publishRequest struct {
	AccountID string          `json:"account_id" validate:"required"`
	Data      json.RawMessage `json:"data"`
}

// newApp builds the fiber app serving the non-WebSocket routes. The operator
// routes are mounted only when an admin token is configured.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{AppName: "realtime"})
	app.Get("/healthz", s.handleHealth)
	app.Get("/ws/info", s.handleInfo)

	if s.cfg.AdminToken != "" {
		admin := app.Group("/admin", s.requireAdmin)
		admin.Get("/clients", s.handleListClients)
		admin.Get("/groups", s.handleListGroups)
		admin.Post("/publish", s.handlePublish)
	}
	return app
}

func (s *Server) health() fiber.Map {
	return fiber.Map{
		"status": "ok",
		"bridge": s.bridgeAvailable(),
	}
}

func (s *Server) info() fiber.Map {
	return fiber.Map{
		"websocket": true,
		"endpoints": []string{chatPathPrefix + "<room>/", realtimePath + "/"},
		"clients":   s.hub.ClientCount(),
		"groups":    len(s.hub.Groups()),
	}
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(s.health())
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(s.info())
}

func (s *Server) requireAdmin(c fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	return c.Next()
}

func (s *Server) handleListClients(c fiber.Ctx) error {
	infos := lo.FilterMap(s.notifier.ConnectedClients(), func(id string, _ int) (*types.ClientInfo, bool) {
		info, err := s.notifier.ClientInfo(id)
		return info, err == nil
	})
	return c.JSON(fiber.Map{"clients": infos, "count": len(infos)})
}

func (s *Server) handleListGroups(c fiber.Ctx) error {
	groups := s.notifier.Groups()
	result := make([]fiber.Map, 0, len(groups))
	for name, count := range groups {
		result = append(result, fiber.Map{"group": name, "members": count})
	}
	return c.JSON(fiber.Map{"groups": result, "count": len(result)})
}

func (s *Server) handlePublish(c fiber.Ctx) error {
	var req publishRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "account_id is required"})
	}
	var payload any = req.Data
	if len(req.Data) == 0 {
		payload = nil
	}
	if err := s.notifier.Publish(req.AccountID, payload); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"published": true, "account_id": req.AccountID})
}
