package serverutils

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalSubject is the fiber.Ctx local holding the authenticated subject.
const LocalSubject = "subject"

// NewJwtMiddleware validates HS256 bearer tokens. The token may also come in
// the "token" query parameter, which websocket clients in browsers need.
// An empty secret disables authentication.
func NewJwtMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if secret == "" {
			ctx.Locals(LocalSubject, "")
			return ctx.Next()
		}

		tokenStr := ctx.Query("token")
		if authHeader := ctx.Get("Authorization"); len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
		if tokenStr == "" {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing token"))
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}

		subject, err := token.Claims.GetSubject()
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid claims"))
		}
		if subject == "" {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if uid, ok := claims["user_id"].(string); ok {
					subject = uid
				}
			}
		}

		ctx.Locals(LocalSubject, subject)
		return ctx.Next()
	}
}

// Subject returns the authenticated subject of the request.
func Subject(ctx *fiber.Ctx) string {
	s, _ := ctx.Locals(LocalSubject).(string)
	return s
}
