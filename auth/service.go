package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrMissingFields signals that email or full name is empty.
	ErrMissingFields = errors.New("auth: email and full name are required")
	// ErrInvalidRole signals an unknown role.
	ErrInvalidRole = errors.New("auth: invalid role")
	// ErrForbidden signals that the caller's role may not perform the action.
	ErrForbidden = errors.New("auth: forbidden")
)

// Service handles authentication business logic.
type Service struct {
	repo       Repository
	jwtSecret  []byte
	tokenTTL   time.Duration
	otpTTL     time.Duration
	sender     OTPSender
	logger     *zap.Logger
	now        func() time.Time
	bcryptCost int
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:       repo,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   24 * time.Hour,
		otpTTL:     5 * time.Minute,
		sender:     LogSender{Logger: zap.NewNop()},
		logger:     zap.NewNop(),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger
	if ls, ok := s.sender.(LogSender); ok {
		ls.Logger = logger
		s.sender = ls
	}
	return s
}

func (s *Service) WithOTPSender(sender OTPSender) *Service {
	s.sender = sender
	return s
}

func (s *Service) WithTTLs(token, otp time.Duration) *Service {
	if token > 0 {
		s.tokenTTL = token
	}
	if otp > 0 {
		s.otpTTL = otp
	}
	return s
}

// WithBcryptCost lowers the hashing cost, for tests.
func (s *Service) WithBcryptCost(cost int) *Service {
	s.bcryptCost = cost
	return s
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	email := normalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return nil, ErrMissingFields
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RolePartner
	}
	// Self sign-up is limited to partners; other roles are provisioned.
	if role != RolePartner {
		return nil, fmt.Errorf("%w %q", ErrInvalidRole, role)
	}

	passwordHash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		Phone:        optional(req.Phone),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	return s.issue(user)
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT token and returns the user ID and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			return "", "", fmt.Errorf("auth: invalid user_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return userID, role, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

// CreateAssociate adds a team member reporting to managerID.
func (s *Service) CreateAssociate(ctx context.Context, managerID string, req AssociateRequest) (*User, error) {
	manager, err := s.repo.GetUserByID(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if !manager.Role.CanManageTeam() {
		return nil, ErrForbidden
	}
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	email := normalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return nil, ErrMissingFields
	}

	passwordHash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		Phone:        optional(req.Phone),
		Role:         RoleAssociate,
		ManagerID:    &manager.ID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("associate created", zap.String("user_id", user.ID), zap.String("manager_id", manager.ID))
	return &user, nil
}

// ListAssociates returns the team of managerID.
func (s *Service) ListAssociates(ctx context.Context, managerID string) ([]User, error) {
	return s.repo.ListByManager(ctx, managerID)
}

func (s *Service) issue(user User) (LoginResult, error) {
	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, User: user}, nil
}

// generateToken creates a JWT token for the user.
func (s *Service) generateToken(userID string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func isValidRole(role Role) bool {
	switch role {
	case RolePartner, RoleAdmin, RoleManager, RoleAssociate:
		return true
	default:
		return false
	}
}
