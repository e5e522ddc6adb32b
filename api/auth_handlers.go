package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"tablevault/core"
	"tablevault/intrusion"
	"tablevault/storage"

	"golang.org/x/crypto/bcrypt"
)

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// loginResponse carries the issued token.
type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *core.User `json:"user"`
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy spends the time of a real bcrypt comparison so that unknown
// emails answer as slowly as wrong passwords.
func compareDummy(password string, cost int) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tablevault timing equalizer"), cost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// login verifies credentials and issues a token. Every failure is reported
// to the intrusion guard and answered with the same message.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := a.clientIP(r)
	log := requestLogger(a.logger, r)

	if !a.limiter.Allow(ctx, ip) {
		a.writeError(w, r, http.StatusTooManyRequests, errorResponse{Message: "Too many login attempts"}, nil)
		return
	}

	var req loginRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	email := storage.NormalizeEmail(req.Email)

	user, err := a.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		compareDummy(req.Password, a.config.Auth.BcryptCost)
	case err != nil:
		a.writeServiceError(w, r, err)
		return
	default:
		err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	}

	if err != nil {
		res, gerr := a.guard.RecordFailedLogin(ctx, email, ip, r.UserAgent())
		if gerr != nil {
			if errors.Is(gerr, intrusion.ErrWipeIncomplete) {
				log.Errorw("CRITICAL: login triggered an incomplete wipe", "ip", ip, "error", gerr)
			}
			a.writeServiceError(w, r, gerr)
			return
		}
		log.Infow("Failed login", "email", email, "ip", ip, "admin_target", res.AdminTarget, "wiped", res.Wiped)
		a.writeError(w, r, http.StatusUnauthorized, errorResponse{Message: "Invalid email or password"}, nil)
		return
	}

	token, expiresAt, err := generateJWT(user, a.config.Auth.JWTSecret, a.config.Auth.JWTExpiry, a.now())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	log.Infow("User logged in", "user_id", user.ID, "ip", ip)
	a.respondData(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, User: user}, "Login successful")
}

// me returns the authenticated caller.
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentity(r.Context())
	user, err := a.users.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, user, "")
}
