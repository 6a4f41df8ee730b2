package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/jinglegw/internal/auth"
	"github.com/pccr10001/jinglegw/internal/model"
	"github.com/pccr10001/jinglegw/internal/worker"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PasswordCost is the bcrypt cost used for new password hashes.
var PasswordCost = 14

const minPasswordLength = 8

// UserHandler manages accounts. An account is scoped to a set of gateway
// profiles, so grants are checked against the profiles actually running.
type UserHandler struct {
	db       *gorm.DB
	profiles ProfileStatuses
}

func NewUserHandler(db *gorm.DB, profiles ProfileStatuses) *UserHandler {
	return &UserHandler{db: db, profiles: profiles}
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	return string(bytes), err
}

// account is a user together with the profiles they may call on.
type account struct {
	Token    string          `json:"token,omitempty"`
	User     *model.User     `json:"user"`
	Profiles []worker.Status `json:"profiles"`
}

func (h *UserHandler) accountOf(u *model.User) account {
	return account{User: u, Profiles: visibleProfiles(u, h.profiles)}
}

// authenticate checks a username and password. Unknown users and wrong
// passwords look the same to the caller.
func (h *UserHandler) authenticate(username, password string) (*model.User, bool) {
	var u model.User
	if err := h.db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, false
	}
	return &u, true
}

// grant normalizes a comma separated profile list. "*" stands for every
// profile; any other name must belong to a configured profile.
func (h *UserHandler) grant(list string) (string, error) {
	names := splitAllowed(list)
	if len(names) == 1 && names[0] == "*" {
		return "*", nil
	}

	known := make(map[string]bool)
	if h.profiles != nil {
		for _, st := range h.profiles.Statuses() {
			known[st.Name] = true
		}
	}
	seen := make(map[string]bool)
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !known[n] {
			return "", fmt.Errorf("unknown profile %q", n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return strings.Join(out, ","), nil
}

func checkPassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func (h *UserHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := h.authenticate(req.Username, req.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	token, err := auth.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	acc := h.accountOf(user)
	acc.Token = token
	c.JSON(http.StatusOK, acc)
}

func (h *UserHandler) Me(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.accountOf(user))
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.authenticate(user.Username, req.OldPassword); !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Incorrect old password"})
		return
	}
	if err := checkPassword(req.NewPassword); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	if err := h.db.Model(user).Update("password_hash", hash).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Password updated"})
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	var users []model.User
	if err := h.db.Order("username").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

type userRequest struct {
	Username        string  `json:"username"`
	Password        string  `json:"password"`
	Role            string  `json:"role"`
	AllowedProfiles *string `json:"allowed_profiles"`
}

// apply validates the role and profile grant of req onto u.
func (h *UserHandler) apply(u *model.User, req *userRequest) error {
	if req.Role != "" {
		if req.Role != "admin" && req.Role != "user" {
			return fmt.Errorf("unknown role %q", req.Role)
		}
		u.Role = req.Role
	}
	if req.AllowedProfiles != nil {
		allowed, err := h.grant(*req.AllowedProfiles)
		if err != nil {
			return err
		}
		u.AllowedProfiles = allowed
	}
	return nil
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	if err := checkPassword(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := model.User{Username: req.Username, Role: "user"}
	if err := h.apply(&user, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	user.PasswordHash = hash

	if err := h.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// UpdateUser changes the role or profile grant of an account.
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var user model.User
	if err := h.db.First(&user, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if me := currentUser(c); me != nil && me.ID == user.ID && req.Role != "" && req.Role != user.Role {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change your own role"})
		return
	}
	if err := h.apply(&user, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.Model(&user).Select("role", "allowed_profiles").Updates(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	if me := currentUser(c); me != nil && me.ID == uint(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}
	if err := h.db.Delete(&model.User{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
