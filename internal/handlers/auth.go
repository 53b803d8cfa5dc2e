package handlers

import (
	"errors"
	"net/http"

	"chatworks/internal/store"
	"chatworks/pkg/auth"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/gin-gonic/gin"
)

func signToken(user *models.User) (string, error) {
	return auth.GenerateJWT(user.ID.String(), user.Username, user.Phone, jwtSecret)
}

// Register creates an account and returns it with a signed token.
func Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.WithError(err).Error("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	user := &models.User{
		Phone:        req.Phone,
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	if err := st.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Phone or username already registered"})
			return
		}
		logger.WithError(err).WithField("phone", req.Phone).Error("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	token, err := signToken(user)
	if err != nil {
		logger.WithError(err).Error("Failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign token"})
		return
	}

	logger.WithFields(logging.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")

	c.JSON(http.StatusCreated, models.AuthResponse{User: *user, Token: token})
}

// Login authenticates with phone and password.
func Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	user, err := st.GetUserByPhone(ctx, req.Phone)
	if errors.Is(err, store.ErrNotFound) {
		logger.WithField("phone", req.Phone).Warn("Login attempt for unknown phone")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid phone or password"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Database error during login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		logger.WithField("user_id", user.ID).Warn("Login attempt with wrong password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid phone or password"})
		return
	}

	token, err := signToken(user)
	if err != nil {
		logger.WithError(err).Error("Failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign token"})
		return
	}

	c.JSON(http.StatusOK, models.AuthResponse{User: *user, Token: token})
}

// RequestCode issues a one-time login code for a phone number. No SMS gateway
// is wired up, so the code rides back in the response.
func RequestCode(c *gin.Context) {
	var req models.RequestCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	code, err := codes.Issue(ctx, req.Phone)
	if err != nil {
		logger.WithError(err).WithField("phone", req.Phone).Error("Failed to issue login code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue code"})
		return
	}

	logger.WithField("phone", req.Phone).Info("Login code issued")

	c.JSON(http.StatusOK, gin.H{
		"message": "Code sent",
		"code":    code,
	})
}

// VerifyCode redeems a login code. An unknown phone gets an account created
// on the spot with the phone as its username, so code login doubles as
// registration.
func VerifyCode(c *gin.Context) {
	var req models.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	ok, err := codes.Consume(ctx, req.Phone, req.Code)
	if err != nil {
		logger.WithError(err).WithField("phone", req.Phone).Error("Failed to check login code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check code"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}

	user, err := st.GetUserByPhone(ctx, req.Phone)
	if errors.Is(err, store.ErrNotFound) {
		user = &models.User{Phone: req.Phone, Username: req.Phone}
		if err := st.CreateUser(ctx, user); err != nil {
			logger.WithError(err).WithField("phone", req.Phone).Error("Failed to create user from code login")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}
		logger.WithFields(logging.Fields{
			"user_id": user.ID,
			"phone":   req.Phone,
		}).Info("User created via code login")
	} else if err != nil {
		logger.WithError(err).Error("Database error during code login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	token, err := signToken(user)
	if err != nil {
		logger.WithError(err).Error("Failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign token"})
		return
	}

	c.JSON(http.StatusOK, models.AuthResponse{User: *user, Token: token})
}

// GetMe returns the authenticated user's own record.
func GetMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	user, err := st.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateMe applies profile changes to the authenticated user.
func UpdateMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	user, err := st.UpdateProfile(ctx, userID, &req)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
