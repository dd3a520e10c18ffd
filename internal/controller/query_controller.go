package controller

import (
	"encoding/json"
	"errors"
	"time"

	"deepsearch-be/internal/dto"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/internal/pkg/serverutils"
	"deepsearch-be/internal/service"
	internalWS "deepsearch-be/internal/websocket"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ProgressSnapshot is the type of the first message a websocket watcher gets.
const ProgressSnapshot = "snapshot"

type IQueryController interface {
	RegisterRoutes(r fiber.Router)
	Query(ctx *fiber.Ctx) error
	StartQuery(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Cancel(ctx *fiber.Ctx) error
	Collections(ctx *fiber.Ctx) error
	History(ctx *fiber.Ctx) error
	Stream(ctx *fiber.Ctx) error
}

type queryController struct {
	service       service.IQueryService
	hub           *internalWS.Hub
	jwtMiddleware fiber.Handler
	logger        logger.ILogger
}

func NewQueryController(service service.IQueryService, hub *internalWS.Hub, jwtMiddleware fiber.Handler, log logger.ILogger) IQueryController {
	return &queryController{
		service:       service,
		hub:           hub,
		jwtMiddleware: jwtMiddleware,
		logger:        log,
	}
}

func (c *queryController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/query/v1")
	h.Use(c.jwtMiddleware)
	h.Post("", c.Query)
	h.Post("async", c.StartQuery)
	h.Get("collections", c.Collections)
	h.Get("history", c.History)
	h.Get(":id", c.Show)
	h.Delete(":id", c.Cancel)
	h.Get(":id/ws", c.Stream)
}

// mapError gives service errors their HTTP status.
func mapError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSessionFinished):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrEmptyQuestion), errors.Is(err, executor.ErrInvalidParams):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, response.ErrSynthesisFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}

func parseSessionID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

func (c *queryController) parseQuery(ctx *fiber.Ctx) (*dto.QueryRequest, error) {
	var req dto.QueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *queryController) Query(ctx *fiber.Ctx) error {
	req, err := c.parseQuery(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Run(ctx.UserContext(), serverutils.Subject(ctx), req)
	if err != nil {
		return mapError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success answer query", res))
}

func (c *queryController) StartQuery(ctx *fiber.Ctx) error {
	req, err := c.parseQuery(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Start(ctx.UserContext(), serverutils.Subject(ctx), req)
	if err != nil {
		return mapError(err)
	}

	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Query started", res))
}

func (c *queryController) Show(ctx *fiber.Ctx) error {
	id, err := parseSessionID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Get(ctx.UserContext(), serverutils.Subject(ctx), id)
	if err != nil {
		return mapError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show session", res))
}

func (c *queryController) Cancel(ctx *fiber.Ctx) error {
	id, err := parseSessionID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Cancel(ctx.UserContext(), serverutils.Subject(ctx), id)
	if err != nil {
		return mapError(err)
	}

	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Cancellation requested", res))
}

func (c *queryController) Collections(ctx *fiber.Ctx) error {
	res, err := c.service.Collections(ctx.UserContext())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get collections", res))
}

func (c *queryController) History(ctx *fiber.Ctx) error {
	var req dto.HistoryListRequest
	if err := ctx.QueryParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query parameters")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.History(ctx.UserContext(), serverutils.Subject(ctx), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get history", res))
}

// Stream upgrades to a websocket that receives the progress of one session,
// starting with a snapshot of its current state.
func (c *queryController) Stream(ctx *fiber.Ctx) error {
	id, err := parseSessionID(ctx)
	if err != nil {
		return err
	}
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}

	view, err := c.service.Get(ctx.UserContext(), serverutils.Subject(ctx), id)
	if err != nil {
		return mapError(err)
	}
	initial, err := json.Marshal(dto.ProgressMessage{
		Type:          ProgressSnapshot,
		SessionId:     id,
		Round:         len(view.Rounds),
		TotalTokens:   view.TokensConsumed,
		EvidenceCount: view.EvidenceCount,
		Data:          view,
		At:            time.Now(),
	})
	if err != nil {
		return err
	}

	return websocket.New(func(conn *websocket.Conn) {
		c.logger.Info("QueryController", "Watcher connected", map[string]interface{}{"session_id": id.String()})
		internalWS.ServeWs(c.hub, conn, id, initial)
		c.logger.Info("QueryController", "Watcher disconnected", map[string]interface{}{"session_id": id.String()})
	})(ctx)
}
