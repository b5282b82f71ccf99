package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/core/ports"
)

const msgInvalidPayload = "Invalid request payload."

type AuthHandler struct {
	authService ports.AuthService
	log         zerolog.Logger
}

func NewAuthHandler(authService ports.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type protectedResponse struct {
	Message string `json:"message"`
	User    string `json:"user"`
}

// Register creates a new account.
//
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "Account details; role defaults to Admin"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  messageResponse
// @Failure      409   {object}  messageResponse
// @Failure      500   {object}  messageResponse
// @Router       /api/auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidPayload})
	}

	msg, err := h.authService.Register(c.Request().Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		status := StatusFor(domain.KindOf(err))
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("username", req.Username).Msg("register failed")
		}
		return c.JSON(status, messageResponse{Message: domain.MessageOf(err)})
	}

	return c.JSON(http.StatusOK, messageResponse{Message: msg})
}

// Login authenticates a user and returns a bearer token.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Credentials"
// @Success      200   {object}  tokenResponse
// @Failure      401   {object}  messageResponse
// @Failure      500   {object}  messageResponse
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidPayload})
	}

	token, err := h.authService.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		if domain.KindOf(err) == domain.KindPersistence {
			status = http.StatusInternalServerError
			h.log.Error().Err(err).Str("username", req.Username).Msg("login failed")
		}
		return c.JSON(status, messageResponse{Message: domain.MessageOf(err)})
	}

	return c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// Public is reachable without a token.
//
// @Summary  Public endpoint
// @Tags     auth
// @Produce  json
// @Success  200  {object}  messageResponse
// @Router   /api/auth/public [get]
func (h *AuthHandler) Public(c echo.Context) error {
	return c.JSON(http.StatusOK, messageResponse{Message: "Public endpoint"})
}

// Protected echoes the authenticated username.
//
// @Summary   Protected endpoint
// @Tags      auth
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  protectedResponse
// @Failure   401  {object}  messageResponse
// @Router    /api/auth/protected [get]
func (h *AuthHandler) Protected(c echo.Context) error {
	username, _ := c.Get("username").(string)
	return c.JSON(http.StatusOK, protectedResponse{Message: "Protected endpoint", User: username})
}

// Admin is reachable by the Admin role only.
//
// @Summary   Admin endpoint
// @Tags      auth
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  messageResponse
// @Failure   401  {object}  messageResponse
// @Failure   403  {object}  messageResponse
// @Router    /api/auth/admin [get]
func (h *AuthHandler) Admin(c echo.Context) error {
	return c.JSON(http.StatusOK, messageResponse{Message: "Admin endpoint"})
}
