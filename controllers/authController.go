package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"civicfix-be/config"
	"civicfix-be/middlewares"
	"civicfix-be/models"
	"civicfix-be/services"
)

type AuthController struct {
	accounts *services.AccountService
	cfg      *config.Config
}

func NewAuthController(accounts *services.AccountService, cfg *config.Config) *AuthController {
	return &AuthController{accounts: accounts, cfg: cfg}
}

func (ac *AuthController) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ac.cfg.RequestTimeout)
}

func userResponse(user *models.User) gin.H {
	return gin.H{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
	}
}

// RegisterUser handles user registration
func (ac *AuthController) RegisterUser(c *gin.Context) {
	var input services.RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := ac.context()
	defer cancel()

	user, err := ac.accounts.Register(ctx, input)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, userResponse(user))
}

// LoginUser handles user login
func (ac *AuthController) LoginUser(c *gin.Context) {
	var input services.LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := ac.context()
	defer cancel()

	user, token, err := ac.accounts.Login(ctx, input)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}

	ac.setCookie(c, token, int(ac.cfg.JWTTTL/time.Second))

	response := userResponse(user)
	response["access_token"] = token
	response["token_type"] = "Bearer"
	c.JSON(http.StatusOK, response)
}

// GetMe retrieves the authenticated user's information
func (ac *AuthController) GetMe(c *gin.Context) {
	user := middlewares.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}

// LogoutUser handles user logout by clearing the auth_token cookie
func (ac *AuthController) LogoutUser(c *gin.Context) {
	ac.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}

func (ac *AuthController) setCookie(c *gin.Context, value string, maxAge int) {
	domain := ac.cfg.Domain
	// For production, don't set domain to allow cross-origin cookies
	if ac.cfg.Production() {
		domain = ""
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middlewares.CookieName,
		Value:    value,
		MaxAge:   maxAge,
		Path:     "/",
		Domain:   domain,
		Secure:   ac.cfg.Production(),
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
}
